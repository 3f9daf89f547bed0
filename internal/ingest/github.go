// internal/ingest/github.go
package ingest

import (
	"fmt"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// githubIssuesEvent is the subset of the GitHub `issues` webhook payload the
// pipeline needs.
type githubIssuesEvent struct {
	Action string `json:"action"`
	Issue  struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
	} `json:"issue"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// GithubAdapter normalizes GitHub `issues` webhook events. Only opened and
// reopened actions produce a report; everything else is ignored.
type GithubAdapter struct{}

var _ Adapter = (*GithubAdapter)(nil)

func NewGithubAdapter() *GithubAdapter { return &GithubAdapter{} }

func (a *GithubAdapter) Source() schemas.ReportSource { return schemas.SourceGithubIssue }

func (a *GithubAdapter) Normalize(payload []byte) ([]schemas.BugReport, error) {
	var event githubIssuesEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("malformed issues event: %w", err)
	}
	if event.Action != "opened" && event.Action != "reopened" {
		return nil, nil
	}
	if event.Repository.FullName == "" || event.Issue.Number == 0 {
		return nil, fmt.Errorf("issues event is missing repository or issue number")
	}
	return []schemas.BugReport{{
		IssueID:    fmt.Sprintf("%s#%d", event.Repository.FullName, event.Issue.Number),
		IssueURL:   event.Issue.HTMLURL,
		Title:      event.Issue.Title,
		Body:       event.Issue.Body,
		Repository: event.Repository.FullName,
		Source:     schemas.SourceGithubIssue,
		ReceivedAt: nowUTC(),
	}}, nil
}
