// internal/ingest/crashlog.go
package ingest

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// CrashLogAdapter turns one buffered traceback block (from the watcher or a
// pasted file) into a report. The block arrives as raw text.
type CrashLogAdapter struct{}

var _ Adapter = (*CrashLogAdapter)(nil)

func NewCrashLogAdapter() *CrashLogAdapter { return &CrashLogAdapter{} }

func (a *CrashLogAdapter) Source() schemas.ReportSource { return schemas.SourceCrashLog }

func (a *CrashLogAdapter) Normalize(payload []byte) ([]schemas.BugReport, error) {
	block := strings.TrimSpace(string(payload))
	if block == "" {
		return nil, fmt.Errorf("empty crash log block")
	}
	return []schemas.BugReport{{
		IssueID:    localID("crash"),
		Title:      crashTitle(block),
		Body:       block,
		Source:     schemas.SourceCrashLog,
		ReceivedAt: nowUTC(),
	}}, nil
}

// crashTitle picks the most descriptive line: the error line when one is
// present, otherwise the first line.
func crashTitle(block string) string {
	lines := strings.Split(block, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if errorLinePattern.MatchString(line) {
			return truncate(line, 120)
		}
	}
	return truncate(strings.TrimSpace(lines[0]), 120)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
