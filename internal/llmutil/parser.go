// internal/llmutil/parser.go

// Package llmutil cleans up and decodes the various shapes LLM output
// arrives in: fenced JSON, JSON buried in conversational text, and fenced
// code or diff blocks.
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

const errorSnippetLen = 500

var (
	// Regexes use \x60 for backticks since Go raw strings cannot hold them.

	// fencedObjectRegex captures a JSON object inside a markdown fence.
	fencedObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// fencedArrayRegex captures a JSON array inside a markdown fence.
	fencedArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
	// fencedCodeRegex captures any fenced block regardless of language tag.
	fencedCodeRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")
)

// ParseJSON decodes an LLM response into T, tolerating markdown fences and
// surrounding prose. The model is asked for bare JSON; this is the safety
// net for when it does not comply.
func ParseJSON[T any](response string) (*T, error) {
	payload := extractJSONPayload(strings.TrimSpace(response))

	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to decode LLM JSON: %w (extracted: %s)", err, truncate(payload, errorSnippetLen))
	}
	return &result, nil
}

// extractJSONPayload narrows a response down to the JSON document it carries.
// Returns the input unchanged when no narrowing applies, letting Unmarshal
// produce the error.
func extractJSONPayload(response string) string {
	hasObject := strings.Contains(response, "{")
	hasArray := strings.Contains(response, "[")

	if strings.HasPrefix(response, "```") {
		var m []string
		if hasObject {
			m = fencedObjectRegex.FindStringSubmatch(response)
		}
		if len(m) < 2 && hasArray {
			m = fencedArrayRegex.FindStringSubmatch(response)
		}
		if len(m) >= 2 {
			return m[1]
		}
		return response
	}

	// Already bare JSON.
	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	// JSON embedded in prose: take the widest bracket span.
	if hasObject {
		if span := widestSpan(response, "{", "}"); span != "" {
			return span
		}
	}
	if hasArray {
		if span := widestSpan(response, "[", "]"); span != "" {
			return span
		}
	}
	return response
}

func widestSpan(s, opener, closer string) string {
	first := strings.Index(s, opener)
	last := strings.LastIndex(s, closer)
	if first == -1 || last == -1 || last <= first {
		return ""
	}
	return s[first : last+1]
}

// StripCodeFences unwraps a fenced code or diff block, leaving unfenced
// content alone. Unified diffs keep exactly one trailing newline so the
// output stays applicable with git apply.
func StripCodeFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	m := fencedCodeRegex.FindStringSubmatch(content)
	if len(m) < 2 {
		return content
	}
	cleaned := strings.TrimSpace(m[1])
	if strings.Contains(cleaned, "--- a/") && strings.Contains(cleaned, "+++ b/") {
		return cleaned + "\n"
	}
	return cleaned
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
