// internal/llmutil/apply.go
package llmutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+\d+(?:,\d+)? @@`)

// ApplyUnifiedDiff applies a single-file unified diff to the original content
// and returns the patched content. Context and removal lines must match the
// original exactly; any mismatch fails rather than guessing, since the output
// becomes a pull request.
func ApplyUnifiedDiff(original, diff string) (string, error) {
	srcLines := strings.Split(original, "\n")
	var out []string
	cursor := 0 // next unconsumed line of srcLines

	lines := strings.Split(diff, "\n")
	inHunk := false
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if m := hunkHeaderRegex.FindStringSubmatch(line); m != nil {
			start, err := strconv.Atoi(m[1])
			if err != nil {
				return "", fmt.Errorf("malformed hunk header %q", line)
			}
			// Hunk starts are 1-based; a zero start means an empty original.
			if start > 0 {
				start--
			}
			if start < cursor || start > len(srcLines) {
				return "", fmt.Errorf("hunk start %d out of order or past end of file", start+1)
			}
			out = append(out, srcLines[cursor:start]...)
			cursor = start
			inHunk = true
			continue
		}
		if !inHunk {
			continue // file headers and git metadata
		}
		switch {
		case strings.HasPrefix(line, "+"):
			out = append(out, line[1:])
		case strings.HasPrefix(line, "-"):
			if cursor >= len(srcLines) || srcLines[cursor] != line[1:] {
				return "", fmt.Errorf("removal mismatch at line %d: diff expects %q", cursor+1, line[1:])
			}
			cursor++
		case strings.HasPrefix(line, " "):
			if cursor >= len(srcLines) || srcLines[cursor] != line[1:] {
				return "", fmt.Errorf("context mismatch at line %d: diff expects %q", cursor+1, line[1:])
			}
			out = append(out, srcLines[cursor])
			cursor++
		case line == "":
			// Blank context line with the leading space trimmed by the model.
			if cursor < len(srcLines) && srcLines[cursor] == "" {
				out = append(out, "")
				cursor++
			}
		case strings.HasPrefix(line, `\ No newline`):
			// Metadata, nothing to copy.
		default:
			inHunk = false
		}
	}

	if !inHunk && cursor == 0 && len(out) == 0 {
		return "", ErrNotUnifiedDiff
	}
	out = append(out, srcLines[cursor:]...)
	return strings.Join(out, "\n"), nil
}
