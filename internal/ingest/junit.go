// internal/ingest/junit.go
package ingest

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// JUnitAdapter turns JUnit XML result files into one report per failed or
// errored test case. Passing and skipped cases are ignored.
type JUnitAdapter struct{}

var _ Adapter = (*JUnitAdapter)(nil)

func NewJUnitAdapter() *JUnitAdapter { return &JUnitAdapter{} }

func (a *JUnitAdapter) Source() schemas.ReportSource { return schemas.SourceJUnit }

func (a *JUnitAdapter) Normalize(payload []byte) ([]schemas.BugReport, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(payload); err != nil {
		return nil, fmt.Errorf("malformed junit xml: %w", err)
	}

	var reports []schemas.BugReport
	for _, tc := range doc.FindElements("//testcase") {
		outcome := tc.SelectElement("failure")
		if outcome == nil {
			outcome = tc.SelectElement("error")
		}
		if outcome == nil {
			continue
		}

		className := tc.SelectAttrValue("classname", "")
		testName := tc.SelectAttrValue("name", "unnamed")
		title := testName + " failed"
		if className != "" {
			title = className + "." + title
		}

		var body strings.Builder
		if msg := outcome.SelectAttrValue("message", ""); msg != "" {
			body.WriteString(msg)
			body.WriteString("\n\n")
		}
		body.WriteString(strings.TrimSpace(outcome.Text()))

		reports = append(reports, schemas.BugReport{
			IssueID:    localID("junit"),
			Title:      title,
			Body:       body.String(),
			Source:     schemas.SourceJUnit,
			ReceivedAt: nowUTC(),
		})
	}
	return reports, nil
}
