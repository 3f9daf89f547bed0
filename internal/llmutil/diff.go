// internal/llmutil/diff.go
package llmutil

import (
	"errors"
	"strings"
)

// ErrNotUnifiedDiff reports content with no unified-diff file headers.
var ErrNotUnifiedDiff = errors.New("content is not a unified diff")

// DiffSummary is the static shape of a unified diff: which files it touches
// and how many lines it adds and removes. Draft-fix gating reads these
// numbers instead of trusting the model's own claims.
type DiffSummary struct {
	Files   []string
	Added   int
	Removed int
}

// ChangedLines is the total churn the diff introduces.
func (d DiffSummary) ChangedLines() int {
	return d.Added + d.Removed
}

// SummarizeDiff parses a unified diff without applying it. File names come
// from the +++ header (or the --- header for deletions); hunk headers and
// git metadata lines are skipped.
func SummarizeDiff(diff string) (DiffSummary, error) {
	var summary DiffSummary
	seen := make(map[string]struct{})
	lastMinusFile := ""

	addFile := func(name string) {
		if name == "" || name == "/dev/null" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		summary.Files = append(summary.Files, name)
	}

	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git"), strings.HasPrefix(line, "index "),
			strings.HasPrefix(line, "@@"), strings.HasPrefix(line, "new file mode"),
			strings.HasPrefix(line, "deleted file mode"):
			continue
		case strings.HasPrefix(line, "--- "):
			lastMinusFile = strings.TrimPrefix(strings.TrimSpace(line[4:]), "a/")
		case strings.HasPrefix(line, "+++ "):
			name := strings.TrimPrefix(strings.TrimSpace(line[4:]), "b/")
			if name == "/dev/null" {
				// Deletion: the file being removed is the one that changed.
				addFile(lastMinusFile)
			} else {
				addFile(name)
			}
		case strings.HasPrefix(line, "+"):
			summary.Added++
		case strings.HasPrefix(line, "-"):
			summary.Removed++
		}
	}

	if len(summary.Files) == 0 {
		return DiffSummary{}, ErrNotUnifiedDiff
	}
	return summary, nil
}
