// internal/trace/keywords.go
package trace

import (
	"regexp"
	"strings"
)

// Keyword extraction feeds the degraded path when no trace is recognized, and
// gives the analyzer searchable tokens either way.
var (
	// Exception-ish tokens: ValueError, NullPointerException, SocketTimeout.
	errorTokenRegex = regexp.MustCompile(`\b[A-Z][A-Za-z0-9_]*(?:Error|Exception|Warning|Timeout|Fault)\b`)
	// Tokens that look like source files.
	fileTokenRegex = regexp.MustCompile(`\b[\w./-]+\.(?:py|pyx|js|mjs|cjs|jsx|ts|tsx|java|go|rb|rs|c|cc|cpp|h)\b`)
	// Short quoted fragments, typically the value or key the report is about.
	quotedTokenRegex = regexp.MustCompile("[`'\"]([^`'\"\n]{2,64})[`'\"]")
	// Code-shaped identifiers: camelCase or snake_case.
	identTokenRegex = regexp.MustCompile(`\b(?:[a-z][a-z0-9]*[A-Z]\w*|[a-z][a-z0-9]*_[a-z0-9_]+)\b`)
)

// ExtractKeywords pulls searchable tokens from free text, most specific
// classes first, deduplicated in encounter order and capped at limit.
func ExtractKeywords(text string, limit int) []string {
	if limit <= 0 {
		return []string{}
	}

	keywords := make([]string, 0, limit)
	seen := make(map[string]bool)
	add := func(token string) bool {
		token = strings.TrimSpace(token)
		if token == "" || seen[token] {
			return len(keywords) < limit
		}
		seen[token] = true
		keywords = append(keywords, token)
		return len(keywords) < limit
	}

	for _, token := range errorTokenRegex.FindAllString(text, -1) {
		if !add(token) {
			return keywords
		}
	}
	for _, token := range fileTokenRegex.FindAllString(text, -1) {
		if !add(token) {
			return keywords
		}
	}
	for _, m := range quotedTokenRegex.FindAllStringSubmatch(text, -1) {
		if !add(m[1]) {
			return keywords
		}
	}
	for _, token := range identTokenRegex.FindAllString(text, -1) {
		if !add(token) {
			return keywords
		}
	}
	return keywords
}
