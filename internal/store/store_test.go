// internal/store/store_test.go
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for
// more robust SQL mock matching.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var decisionColumns = []string{
	"id", "issue_id", "assigned_to", "confidence", "reasoning",
	"routed_to_human", "draft_fix", "status", "created_at", "updated_at",
}

func testDecision() *schemas.AssignmentDecision {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return &schemas.AssignmentDecision{
		ID:         "5f8f8f8f-0000-0000-0000-000000000001",
		IssueID:    "acme/app#7",
		AssigneeID: "d1@acme.dev",
		Confidence: 91.5,
		Reasoning:  "Assigned to d1@acme.dev",
		Status:     schemas.StatusAssigned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func newStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestNew_PingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveDecision_InsertsWhenNoOpenDecision(t *testing.T) {
	s, mockPool := newStore(t)
	decision := testDecision()

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(flexibleSQLMatcher(selectOpenDecisionSQL)).
		WithArgs(decision.IssueID).
		WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectExec(flexibleSQLMatcher(insertDecisionSQL)).
		WithArgs(decision.ID, decision.IssueID, decision.AssigneeID, decision.Confidence,
			decision.Reasoning, decision.RoutedToHuman, pgxmock.AnyArg(), string(decision.Status),
			decision.CreatedAt, decision.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	saved, created, err := s.SaveDecision(context.Background(), decision)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, decision, saved)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveDecision_ReturnsExistingOpenDecision(t *testing.T) {
	s, mockPool := newStore(t)
	decision := testDecision()
	existingCreated := decision.CreatedAt.Add(-time.Hour)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(flexibleSQLMatcher(selectOpenDecisionSQL)).
		WithArgs(decision.IssueID).
		WillReturnRows(pgxmock.NewRows(decisionColumns).AddRow(
			"5f8f8f8f-0000-0000-0000-00000000000a", decision.IssueID, "other@acme.dev",
			70.0, "prior decision", false, []byte(nil), "assigned",
			existingCreated, existingCreated))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	saved, created, err := s.SaveDecision(context.Background(), decision)
	require.NoError(t, err)
	assert.False(t, created, "existing open decision must win")
	assert.Equal(t, "other@acme.dev", saved.AssigneeID)
	assert.Equal(t, schemas.StatusAssigned, saved.Status)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveDecision_SerializesDraftFix(t *testing.T) {
	s, mockPool := newStore(t)
	decision := testDecision()
	decision.DraftFix = schemas.NewDraftFix("app/config.py", "--- a/app/config.py\n+++ b/app/config.py\n", 3)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(flexibleSQLMatcher(selectOpenDecisionSQL)).
		WithArgs(decision.IssueID).
		WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectExec(flexibleSQLMatcher(insertDecisionSQL)).
		WithArgs(decision.ID, decision.IssueID, decision.AssigneeID, decision.Confidence,
			decision.Reasoning, decision.RoutedToHuman, pgxmock.AnyArg(), string(decision.Status),
			decision.CreatedAt, decision.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	_, created, err := s.SaveDecision(context.Background(), decision)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestFindDecisionsByIssue(t *testing.T) {
	s, mockPool := newStore(t)
	now := time.Now().UTC()

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT id, issue_id, assigned_to`)).
		WithArgs("acme/app#7").
		WillReturnRows(pgxmock.NewRows(decisionColumns).
			AddRow("id-2", "acme/app#7", "d1@acme.dev", 91.5, "second", false,
				[]byte(`{"files_changed":{"app/config.py":"diff"},"line_count_changed":3,"label":"DRAFT - Review Required"}`),
				"assigned", now, now).
			AddRow("id-1", "acme/app#7", "", 12.0, "first", true, []byte(nil),
				"reassigned", now.Add(-time.Hour), now.Add(-time.Hour)))

	decisions, err := s.FindDecisionsByIssue(context.Background(), "acme/app#7")
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "id-2", decisions[0].ID)
	require.NotNil(t, decisions[0].DraftFix)
	assert.Equal(t, schemas.DraftFixLabel, decisions[0].DraftFix.Label)
	assert.True(t, decisions[1].RoutedToHuman)
	assert.Nil(t, decisions[1].DraftFix)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpdateDecisionStatus(t *testing.T) {
	s, mockPool := newStore(t)

	mockPool.ExpectExec(flexibleSQLMatcher(`UPDATE assignments SET status`)).
		WithArgs("id-1", "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdateDecisionStatus(context.Background(), "id-1", schemas.StatusCompleted))

	mockPool.ExpectExec(flexibleSQLMatcher(`UPDATE assignments SET status`)).
		WithArgs("missing", "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := s.UpdateDecisionStatus(context.Background(), "missing", schemas.StatusCompleted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetExpertise(t *testing.T) {
	s, mockPool := newStore(t)
	computed := time.Now().UTC().Truncate(time.Second)
	lastCommit := computed.Add(-48 * time.Hour)

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT developer_id, score`)).
		WithArgs("app/config.py").
		WillReturnRows(pgxmock.NewRows([]string{
			"developer_id", "score", "commit_count", "last_commit_at", "lines_owned", "is_active", "computed_at",
		}).
			AddRow("d1@acme.dev", 91.5, 12, &lastCommit, 80, true, computed).
			AddRow("d2@acme.dev", 10.0, 2, (*time.Time)(nil), 5, false, computed))

	scores, computedAt, err := s.GetExpertise(context.Background(), "app/config.py")
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, "d1@acme.dev", scores[0].DeveloperID)
	assert.Equal(t, "app/config.py", scores[0].FilePath)
	assert.Equal(t, lastCommit, scores[0].LastCommitAt)
	assert.True(t, scores[1].LastCommitAt.IsZero())
	assert.Equal(t, computed, computedAt)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetExpertise_NeverScored(t *testing.T) {
	s, mockPool := newStore(t)

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT developer_id, score`)).
		WithArgs("app/new.py").
		WillReturnRows(pgxmock.NewRows([]string{
			"developer_id", "score", "commit_count", "last_commit_at", "lines_owned", "is_active", "computed_at",
		}))

	scores, computedAt, err := s.GetExpertise(context.Background(), "app/new.py")
	require.NoError(t, err)
	assert.Nil(t, scores)
	assert.True(t, computedAt.IsZero())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpsertExpertise_ReplacesRanking(t *testing.T) {
	s, mockPool := newStore(t)
	computed := time.Now().UTC()
	scores := []schemas.ExpertiseScore{
		{DeveloperID: "d1@acme.dev", Score: 91.5, CommitCount: 12, LinesOwned: 80, IsActive: true, LastCommitAt: computed.Add(-time.Hour)},
		{DeveloperID: "d2@acme.dev", Score: 10.0, CommitCount: 2, LinesOwned: 5},
	}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher(`DELETE FROM expertise_cache WHERE file_path = $1`)).
		WithArgs("app/config.py").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	batch := mockPool.ExpectBatch()
	insertPattern := flexibleSQLMatcher(`INSERT INTO expertise_cache`)
	batch.ExpectExec(insertPattern).
		WithArgs("app/config.py", "d1@acme.dev", 91.5, 12, pgxmock.AnyArg(), 80, true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec(insertPattern).
		WithArgs("app/config.py", "d2@acme.dev", 10.0, 2, (*time.Time)(nil), 5, false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, s.UpsertExpertise(context.Background(), "app/config.py", scores, computed))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestCountOpenAssignments(t *testing.T) {
	s, mockPool := newStore(t)

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT COUNT(*) FROM assignments`)).
		WithArgs("d1@acme.dev").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	count, err := s.CountOpenAssignments(context.Background(), "d1@acme.dev")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetConfigValue(t *testing.T) {
	s, mockPool := newStore(t)

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT value FROM system_config`)).
		WithArgs(schemas.ConfigKeyConfidenceThreshold).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("75"))
	value, ok, err := s.GetConfigValue(context.Background(), schemas.ConfigKeyConfidenceThreshold)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "75", value)

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT value FROM system_config`)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, ok, err = s.GetConfigValue(context.Background(), "missing")
	require.NoError(t, err, "an unset key is not an error")
	assert.False(t, ok)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveTriageRecord(t *testing.T) {
	s, mockPool := newStore(t)
	record := &schemas.TriageRecord{
		ID:            "rec-1",
		IssueID:       "acme/app#7",
		Source:        string(schemas.SourceGithubIssue),
		ErrorType:     "FileNotFoundError",
		AffectedFiles: []string{"app/config.py"},
		RootCause:     "missing config file",
		Confidence:    91.5,
		Assignee:      "d1@acme.dev",
		ProcessingMS:  420,
		CreatedAt:     time.Now().UTC(),
	}

	mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO triage_decisions`)).
		WithArgs(record.ID, record.IssueID, record.Source, record.ErrorType, pgxmock.AnyArg(),
			record.RootCause, record.Confidence, record.RoutedToHuman, record.Assignee,
			record.DraftPRURL, record.ProcessingMS, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveTriageRecord(context.Background(), record))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newStore(t)

	for range schemaStatements {
		mockPool.ExpectExec(`CREATE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
