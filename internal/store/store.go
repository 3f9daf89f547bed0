// internal/store/store.go

// Package store persists triage state: assignment decisions (with the
// conditional-insert guard that keeps concurrent deliveries from producing
// two assignees), the expertise cache, the developer registry, audit records,
// and runtime-tunable settings. The PostgreSQL implementation lives here; an
// in-memory implementation for tests and one-shot runs lives in memory.go.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL implementation of schemas.TriageStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.TriageStore = (*Store)(nil)

// New creates a store and verifies connectivity.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// schemaStatements creates every table the triage pipeline needs. Idempotent;
// run at startup, not by a migration framework.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		git_email TEXT PRIMARY KEY,
		github_login TEXT NOT NULL DEFAULT '',
		slack_id TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS assignments (
		id UUID PRIMARY KEY,
		issue_id TEXT NOT NULL,
		assigned_to TEXT NOT NULL DEFAULT '',
		confidence DOUBLE PRECISION NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		routed_to_human BOOLEAN NOT NULL,
		draft_fix JSONB,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	// The §concurrency guard: at most one open assignment per issue, enforced
	// by the database rather than application memory.
	`CREATE UNIQUE INDEX IF NOT EXISTS assignments_open_issue_idx
		ON assignments (issue_id) WHERE status = 'assigned'`,
	`CREATE TABLE IF NOT EXISTS expertise_cache (
		file_path TEXT NOT NULL,
		developer_id TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		commit_count INTEGER NOT NULL,
		last_commit_at TIMESTAMPTZ,
		lines_owned INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL,
		computed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (file_path, developer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS triage_decisions (
		id UUID PRIMARY KEY,
		issue_id TEXT NOT NULL,
		source TEXT NOT NULL,
		error_type TEXT NOT NULL DEFAULT '',
		affected_files JSONB NOT NULL DEFAULT '[]',
		root_cause TEXT NOT NULL DEFAULT '',
		confidence DOUBLE PRECISION NOT NULL,
		routed_to_human BOOLEAN NOT NULL,
		assignee TEXT NOT NULL DEFAULT '',
		draft_pr_url TEXT NOT NULL DEFAULT '',
		processing_ms BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS system_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the triage tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	s.log.Info("Database schema verified")
	return nil
}

const selectOpenDecisionSQL = `
	SELECT id, issue_id, assigned_to, confidence, reasoning, routed_to_human, draft_fix, status, created_at, updated_at
	FROM assignments
	WHERE issue_id = $1 AND status = 'assigned'
	FOR UPDATE`

const insertDecisionSQL = `
	INSERT INTO assignments (id, issue_id, assigned_to, confidence, reasoning, routed_to_human, draft_fix, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// SaveDecision inserts a decision unless an open one already exists for the
// issue, in which case the existing decision is returned unchanged. The
// read-then-write runs in one transaction with the open row locked, so two
// concurrent deliveries of the same issue cannot both insert.
func (s *Store) SaveDecision(ctx context.Context, decision *schemas.AssignmentDecision) (*schemas.AssignmentDecision, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	existing, err := scanDecision(tx.QueryRow(ctx, selectOpenDecisionSQL, decision.IssueID))
	switch {
	case err == nil:
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
		s.log.Info("Issue already has an open decision; keeping it",
			zap.String("issue_id", decision.IssueID),
			zap.String("decision_id", existing.ID))
		return existing, false, nil
	case errors.Is(err, pgx.ErrNoRows):
		// No open decision; insert below.
	default:
		return nil, false, fmt.Errorf("failed to check for open decision: %w", err)
	}

	draftJSON, err := marshalDraftFix(decision.DraftFix)
	if err != nil {
		return nil, false, err
	}
	_, err = tx.Exec(ctx, insertDecisionSQL,
		decision.ID, decision.IssueID, decision.AssigneeID, decision.Confidence,
		decision.Reasoning, decision.RoutedToHuman, draftJSON, string(decision.Status),
		decision.CreatedAt.UTC(), decision.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert decision: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return decision, true, nil
}

// FindDecisionsByIssue returns every recorded decision for an issue, newest
// first.
func (s *Store) FindDecisionsByIssue(ctx context.Context, issueID string) ([]schemas.AssignmentDecision, error) {
	query := `
		SELECT id, issue_id, assigned_to, confidence, reasoning, routed_to_human, draft_fix, status, created_at, updated_at
		FROM assignments
		WHERE issue_id = $1
		ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []schemas.AssignmentDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		decisions = append(decisions, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return decisions, nil
}

// UpdateDecisionStatus moves a decision to a new lifecycle status.
func (s *Store) UpdateDecisionStatus(ctx context.Context, decisionID string, status schemas.DecisionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assignments SET status = $2, updated_at = now() WHERE id = $1`,
		decisionID, string(status))
	if err != nil {
		return fmt.Errorf("failed to update decision status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("decision %s not found", decisionID)
	}
	return nil
}

// GetExpertise reads the cached ranking for a file. A file that has never
// been scored returns nil scores and a zero time, not an error.
func (s *Store) GetExpertise(ctx context.Context, filePath string) ([]schemas.ExpertiseScore, time.Time, error) {
	query := `
		SELECT developer_id, score, commit_count, last_commit_at, lines_owned, is_active, computed_at
		FROM expertise_cache
		WHERE file_path = $1
		ORDER BY score DESC, developer_id ASC`
	rows, err := s.pool.Query(ctx, query, filePath)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to query expertise cache: %w", err)
	}
	defer rows.Close()

	var scores []schemas.ExpertiseScore
	var computedAt time.Time
	for rows.Next() {
		var sc schemas.ExpertiseScore
		var lastCommit *time.Time
		var rowComputed time.Time
		if err := rows.Scan(&sc.DeveloperID, &sc.Score, &sc.CommitCount, &lastCommit, &sc.LinesOwned, &sc.IsActive, &rowComputed); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan expertise row: %w", err)
		}
		sc.FilePath = filePath
		if lastCommit != nil {
			sc.LastCommitAt = *lastCommit
		}
		if rowComputed.After(computedAt) {
			computedAt = rowComputed
		}
		scores = append(scores, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("error during row iteration: %w", err)
	}
	return scores, computedAt, nil
}

// UpsertExpertise replaces the cached ranking for a file in one transaction.
func (s *Store) UpsertExpertise(ctx context.Context, filePath string, scores []schemas.ExpertiseScore, computedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM expertise_cache WHERE file_path = $1`, filePath); err != nil {
		return fmt.Errorf("failed to clear expertise cache: %w", err)
	}

	if len(scores) > 0 {
		batch := &pgx.Batch{}
		insertSQL := `
			INSERT INTO expertise_cache (file_path, developer_id, score, commit_count, last_commit_at, lines_owned, is_active, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		for _, sc := range scores {
			var lastCommit *time.Time
			if !sc.LastCommitAt.IsZero() {
				t := sc.LastCommitAt.UTC()
				lastCommit = &t
			}
			batch.Queue(insertSQL, filePath, sc.DeveloperID, sc.Score, sc.CommitCount, lastCommit, sc.LinesOwned, sc.IsActive, computedAt.UTC())
		}

		br := tx.SendBatch(ctx, batch)
		if br == nil {
			return fmt.Errorf("failed to send batch: batch results is nil")
		}
		for i := range scores {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to insert expertise row for %s: %w", scores[i].DeveloperID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("failed to close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListUsers returns the developer registry.
func (s *Store) ListUsers(ctx context.Context) ([]schemas.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT git_email, github_login, slack_id, display_name, is_active, created_at
		FROM users
		ORDER BY git_email ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []schemas.User
	for rows.Next() {
		var u schemas.User
		if err := rows.Scan(&u.GitEmail, &u.GithubLogin, &u.SlackID, &u.DisplayName, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return users, nil
}

// CountOpenAssignments returns a developer's current open assignment count.
func (s *Store) CountOpenAssignments(ctx context.Context, developerID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM assignments WHERE assigned_to = $1 AND status = 'assigned'`,
		developerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open assignments: %w", err)
	}
	return count, nil
}

// SaveTriageRecord archives one pipeline run for audit queries.
func (s *Store) SaveTriageRecord(ctx context.Context, record *schemas.TriageRecord) error {
	filesJSON, err := json.Marshal(record.AffectedFiles)
	if err != nil {
		return fmt.Errorf("failed to marshal affected files: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO triage_decisions (id, issue_id, source, error_type, affected_files, root_cause, confidence, routed_to_human, assignee, draft_pr_url, processing_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.ID, record.IssueID, record.Source, record.ErrorType, filesJSON,
		record.RootCause, record.Confidence, record.RoutedToHuman, record.Assignee,
		record.DraftPRURL, record.ProcessingMS, record.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert triage record: %w", err)
	}
	return nil
}

// GetConfigValue reads a runtime-tunable setting.
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read config value: %w", err)
	}
	return value, true, nil
}

// SetConfigValue writes a runtime-tunable setting.
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_config (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write config value: %w", err)
	}
	return nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// rowScanner covers both pgx.Row and pgx.Rows for scanDecision.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDecision reads one assignments row.
func scanDecision(row rowScanner) (*schemas.AssignmentDecision, error) {
	var d schemas.AssignmentDecision
	var status string
	var draftJSON []byte
	if err := row.Scan(&d.ID, &d.IssueID, &d.AssigneeID, &d.Confidence, &d.Reasoning,
		&d.RoutedToHuman, &draftJSON, &status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = schemas.DecisionStatus(status)
	if len(draftJSON) > 0 {
		var fix schemas.DraftFix
		if err := json.Unmarshal(draftJSON, &fix); err != nil {
			return nil, fmt.Errorf("failed to unmarshal draft fix: %w", err)
		}
		d.DraftFix = &fix
	}
	return &d, nil
}

// marshalDraftFix serializes the optional draft; nil stays NULL.
func marshalDraftFix(fix *schemas.DraftFix) ([]byte, error) {
	if fix == nil {
		return nil, nil
	}
	data, err := json.Marshal(fix)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal draft fix: %w", err)
	}
	return data, nil
}
