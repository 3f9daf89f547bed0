// internal/ingest/ingest_test.go
package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

const issuesOpenedEvent = `{
  "action": "opened",
  "issue": {
    "number": 42,
    "title": "KeyError on startup",
    "body": "Traceback (most recent call last):\n  File \"app/config.py\", line 88, in load\nKeyError: 'retry_count'",
    "html_url": "https://github.com/acme/app/issues/42"
  },
  "repository": {"full_name": "acme/app"}
}`

const junitReport = `<?xml version="1.0" encoding="UTF-8"?>
<testsuites>
  <testsuite name="app.tests" tests="3" failures="1" errors="1">
    <testcase classname="app.test_config" name="test_load">
      <failure message="KeyError: 'retry_count'">Traceback (most recent call last):
  File "app/config.py", line 88, in load
KeyError: 'retry_count'</failure>
    </testcase>
    <testcase classname="app.test_config" name="test_defaults"/>
    <testcase classname="app.test_server" name="test_boot">
      <error message="ConnectionError: refused">stack here</error>
    </testcase>
  </testsuite>
</testsuites>`

func TestGithubAdapter_OpenedEvent(t *testing.T) {
	t.Parallel()
	reports, err := NewGithubAdapter().Normalize([]byte(issuesOpenedEvent))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, "acme/app#42", r.IssueID)
	assert.Equal(t, "https://github.com/acme/app/issues/42", r.IssueURL)
	assert.Equal(t, "KeyError on startup", r.Title)
	assert.Contains(t, r.Body, "KeyError: 'retry_count'")
	assert.Equal(t, "acme/app", r.Repository)
	assert.Equal(t, schemas.SourceGithubIssue, r.Source)
	assert.False(t, r.ReceivedAt.IsZero())
}

func TestGithubAdapter_IgnoredActions(t *testing.T) {
	t.Parallel()
	a := NewGithubAdapter()
	for _, action := range []string{"closed", "labeled", "assigned", "edited"} {
		payload := `{"action":"` + action + `","issue":{"number":1},"repository":{"full_name":"acme/app"}}`
		reports, err := a.Normalize([]byte(payload))
		require.NoError(t, err, action)
		assert.Empty(t, reports, action)
	}
}

func TestGithubAdapter_MalformedPayload(t *testing.T) {
	t.Parallel()
	a := NewGithubAdapter()

	_, err := a.Normalize([]byte(`{not json`))
	assert.Error(t, err)

	// Opened event with no issue number is rejected, not silently dropped.
	_, err = a.Normalize([]byte(`{"action":"opened","repository":{"full_name":"acme/app"}}`))
	assert.Error(t, err)
}

func TestJUnitAdapter_OneReportPerFailedCase(t *testing.T) {
	t.Parallel()
	reports, err := NewJUnitAdapter().Normalize([]byte(junitReport))
	require.NoError(t, err)
	require.Len(t, reports, 2, "one per <failure>/<error>, passing case skipped")

	assert.Equal(t, "app.test_config.test_load failed", reports[0].Title)
	assert.Contains(t, reports[0].Body, "KeyError: 'retry_count'")
	assert.Contains(t, reports[0].Body, `File "app/config.py", line 88`)
	assert.Equal(t, schemas.SourceJUnit, reports[0].Source)
	assert.True(t, len(reports[0].IssueID) > len("junit-"))

	assert.Equal(t, "app.test_server.test_boot failed", reports[1].Title)
	assert.Contains(t, reports[1].Body, "ConnectionError: refused")

	assert.NotEqual(t, reports[0].IssueID, reports[1].IssueID)
}

func TestJUnitAdapter_MalformedXML(t *testing.T) {
	t.Parallel()
	_, err := NewJUnitAdapter().Normalize([]byte(`<testsuite><testcase>`))
	assert.Error(t, err)
}

func TestCrashLogAdapter_BlockBecomesReport(t *testing.T) {
	t.Parallel()
	block := "Traceback (most recent call last):\n  File \"app/config.py\", line 88, in load\n    return parse(data)\nKeyError: 'retry_count'"

	reports, err := NewCrashLogAdapter().Normalize([]byte(block))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, "KeyError: 'retry_count'", r.Title)
	assert.Equal(t, block, r.Body)
	assert.Equal(t, schemas.SourceCrashLog, r.Source)

	_, err = NewCrashLogAdapter().Normalize([]byte("   \n  "))
	assert.Error(t, err)
}

func TestRegistry_DispatchesBySource(t *testing.T) {
	t.Parallel()
	r := NewRegistry(zaptest.NewLogger(t))

	reports, err := r.Normalize(schemas.SourceGithubIssue, []byte(issuesOpenedEvent))
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	_, err = r.Normalize(schemas.ReportSource("carrier_pigeon"), []byte(`{}`))
	assert.Error(t, err)
}
