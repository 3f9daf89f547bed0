package schemas

import (
	"context"
	"time"
)

// -- Store Interface --

// TriageStore defines the persistence boundary for triage state. This
// abstraction keeps the pipeline independent of the specific database
// implementation (e.g., PostgreSQL, in-memory).
type TriageStore interface {
	// SaveDecision persists a decision for an issue. If a non-terminal
	// decision already exists for the same issue, the existing decision is
	// returned unchanged and created is false.
	SaveDecision(ctx context.Context, decision *AssignmentDecision) (saved *AssignmentDecision, created bool, err error)
	// FindDecisionsByIssue returns all recorded decisions for an issue,
	// newest first.
	FindDecisionsByIssue(ctx context.Context, issueID string) ([]AssignmentDecision, error)
	// UpdateDecisionStatus moves a decision to a new lifecycle status.
	UpdateDecisionStatus(ctx context.Context, decisionID string, status DecisionStatus) error
	// GetExpertise retrieves cached expertise scores for a file, or nil if
	// the file has never been scored.
	GetExpertise(ctx context.Context, filePath string) ([]ExpertiseScore, time.Time, error)
	// UpsertExpertise replaces the cached expertise scores for a file.
	UpsertExpertise(ctx context.Context, filePath string, scores []ExpertiseScore, computedAt time.Time) error
	// ListUsers returns the developer registry.
	ListUsers(ctx context.Context) ([]User, error)
	// CountOpenAssignments returns the number of non-terminal assignments
	// held by a developer. Used as the workload tie-break.
	CountOpenAssignments(ctx context.Context, developerID string) (int, error)
	// SaveTriageRecord archives a completed pipeline run for audit queries.
	SaveTriageRecord(ctx context.Context, record *TriageRecord) error
	// GetConfigValue reads a runtime-tunable setting, returning ok=false
	// when the key has never been set.
	GetConfigValue(ctx context.Context, key string) (value string, ok bool, err error)
	// SetConfigValue writes a runtime-tunable setting.
	SetConfigValue(ctx context.Context, key, value string) error
	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error
}

// -- History Interface --

// HistoryProvider exposes repository history for expertise scoring. The
// canonical implementation wraps a local git clone.
type HistoryProvider interface {
	// FileHistory returns the commit log and line ownership for a file,
	// following renames. A file with no history returns an empty FileHistory,
	// not an error.
	FileHistory(ctx context.Context, filePath string) (*FileHistory, error)
	// FileAtHead returns the current content of a file at the repository
	// head.
	FileAtHead(ctx context.Context, filePath string) (string, error)
}

// -- LLM Interface --

// GenerationOptions tunes a single LLM call.
type GenerationOptions struct {
	// ForceJSONFormat asks the provider to constrain output to JSON.
	ForceJSONFormat bool
	// Temperature overrides the provider default when non-nil.
	Temperature *float64
	// MaxOutputTokens caps the response length. Zero means provider default.
	MaxOutputTokens int
}

// GenerationRequest is a provider-neutral LLM request.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Tier         ModelTier
	Options      GenerationOptions
}

// LLMClient is the minimal surface the analyzer and fix generator need from a
// language model provider. Implementations perform a single attempt; retry
// policy belongs to the caller.
type LLMClient interface {
	// Generate executes one completion request and returns the raw text.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases provider resources.
	Close() error
}

// -- Collaborator Interfaces --

// Notifier delivers triage outcomes to humans.
type Notifier interface {
	// Notify announces a completed triage run on the normal channel.
	Notify(ctx context.Context, result *TriageResult) error
	// Escalate announces a human-routed triage run on the escalation channel.
	Escalate(ctx context.Context, result *TriageResult) error
}

// CodeHost applies triage side effects to the issue tracker: assignment,
// labels, an explanatory comment, and optionally a draft pull request.
type CodeHost interface {
	// ApplyDecision pushes the decision to the tracker and returns the URL of
	// the draft pull request when one was opened.
	ApplyDecision(ctx context.Context, result *TriageResult) (prURL string, err error)
}
