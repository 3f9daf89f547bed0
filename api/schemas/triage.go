// api/schemas/triage.go
package schemas

import (
	"time"
)

// -- Report Schemas --

// BugReport is the normalized unit of work entering the triage pipeline,
// regardless of where the report came from (webhook, crash log, JUnit file).
type BugReport struct {
	// IssueID uniquely identifies the report. For GitHub issues this is
	// "<owner>/<repo>#<number>"; for local sources it is a generated ID.
	IssueID    string       `json:"issue_id"`
	IssueURL   string       `json:"issue_url,omitempty"`
	Title      string       `json:"title"`
	Body       string       `json:"body"`
	Repository string       `json:"repository,omitempty"`
	Source     ReportSource `json:"source"`
	// HintLanguage is an optional caller-supplied language hint. The parser
	// uses it only to break detection ties, never to override a clear match.
	HintLanguage SourceLanguage `json:"hint_language,omitempty"`
	ReceivedAt   time.Time      `json:"received_at"`
}

// StackFrame is a single frame extracted from a stack trace. Frames are
// ordered by relevance (rank 1 first); the ordering is significant and
// frames are immutable once produced.
type StackFrame struct {
	FilePath     string `json:"file_path"`
	LineNumber   int    `json:"line_number"`
	FunctionName string `json:"function_name"`
	RawText      string `json:"raw_text"`
	// RelevanceRank is 1-based; 1 is the most relevant frame.
	RelevanceRank int `json:"relevance_rank"`
}

// ParsedReport is the structured output of the stack trace parser. A report
// with no frames but populated keywords is a degraded-but-valid result, not
// an error.
type ParsedReport struct {
	Frames            []StackFrame   `json:"frames"`
	ErrorType         string         `json:"error_type,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	ExtractedKeywords []string       `json:"extracted_keywords"`
	SourceLanguage    SourceLanguage `json:"source_language"`
}

// TopFrame returns the most relevant frame, or nil when no frames were
// extracted.
func (p *ParsedReport) TopFrame() *StackFrame {
	if p == nil || len(p.Frames) == 0 {
		return nil
	}
	top := &p.Frames[0]
	for i := range p.Frames {
		if p.Frames[i].RelevanceRank < top.RelevanceRank {
			top = &p.Frames[i]
		}
	}
	return top
}

// -- History Schemas --

// Commit is a single history record supplied by the git history provider.
// IsBot is derived from the configured bot-account pattern list; IsMerge from
// the commit's parent count.
type Commit struct {
	Hash         string    `json:"hash"`
	AuthorEmail  string    `json:"author_email"`
	AuthoredAt   time.Time `json:"authored_at"`
	LinesChanged int       `json:"lines_changed"`
	IsMerge      bool      `json:"is_merge"`
	IsBot        bool      `json:"is_bot"`
}

// FileHistory is the annotated history for a single file: the ordered commit
// sequence (newest first) plus blame-style line attribution that already
// follows the file across renames. The scorer consumes this as pure data and
// never talks to version control itself.
type FileHistory struct {
	FilePath string   `json:"file_path"`
	Commits  []Commit `json:"commits"`
	// TotalLines is the current line count of the file at HEAD.
	TotalLines int `json:"total_lines"`
	// LinesByAuthor maps author email to the number of current lines whose
	// most recent qualifying (non-bot, non-merge) author is that developer.
	LinesByAuthor map[string]int `json:"lines_by_author"`
}

// ExpertiseScore is the computed ownership measure for one (developer, file)
// pair. Scores are non-negative; a ranked slice is ordered descending.
type ExpertiseScore struct {
	DeveloperID  string    `json:"developer_id"`
	FilePath     string    `json:"file_path"`
	Score        float64   `json:"score"`
	CommitCount  int       `json:"commit_count"`
	LastCommitAt time.Time `json:"last_commit_at"`
	LinesOwned   int       `json:"lines_owned"`
	// IsActive reflects the developer registry (or the activity-window
	// heuristic when no registry is available). Inactive developers remain in
	// the ranking for transparency but are never eligible for assignment.
	IsActive bool `json:"is_active"`
}

// -- Analysis Schemas --

// BugAnalysis is the analyzer's verdict for one report. Confidence is in
// [0,100] and drives downstream routing. A degraded analysis (analyzer
// unavailable) carries Confidence 0 and FixComplexity unknown.
type BugAnalysis struct {
	AffectedFiles       []string      `json:"affected_files"`
	RootCauseHypothesis string        `json:"root_cause_hypothesis"`
	Explanation         string        `json:"explanation"`
	ErrorTranslation    string        `json:"error_translation,omitempty"`
	FixComplexity       FixComplexity `json:"fix_complexity"`
	Confidence          float64       `json:"confidence"`
	// Degraded marks an analysis produced without the external analyzer
	// (timeout, exhausted retries, open breaker).
	Degraded bool `json:"degraded,omitempty"`
}

// -- Decision Schemas --

// AssignmentDecision is the terminal artifact of one triage invocation. It is
// persisted for audit and loop prevention: an issue with an existing
// non-terminal decision for the same candidate is never re-proposed.
type AssignmentDecision struct {
	ID      string `json:"id"`
	IssueID string `json:"issue_id"`
	// AssigneeID is the chosen developer, empty when RoutedToHuman.
	AssigneeID    string         `json:"assignee_id,omitempty"`
	Confidence    float64        `json:"confidence"`
	Reasoning     string         `json:"reasoning"`
	RoutedToHuman bool           `json:"routed_to_human"`
	DraftFix      *DraftFix      `json:"draft_fix,omitempty"`
	Status        DecisionStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Terminal reports whether the decision is settled and may be superseded by a
// fresh one (completed or reassigned).
func (d *AssignmentDecision) Terminal() bool {
	return d.Status == StatusCompleted || d.Status == StatusReassigned
}

// DraftFix is a constrained single-file patch proposal. Construction goes
// through NewDraftFix so the single-file invariant and the label constant
// hold everywhere downstream.
type DraftFix struct {
	// FilesChanged maps file path to unified diff text. Exactly one entry.
	FilesChanged     map[string]string `json:"files_changed"`
	LineCountChanged int               `json:"line_count_changed"`
	Label            string            `json:"label"`
}

// NewDraftFix builds a DraftFix for a single file, stamping the required
// label.
func NewDraftFix(filePath, diff string, changedLines int) *DraftFix {
	return &DraftFix{
		FilesChanged:     map[string]string{filePath: diff},
		LineCountChanged: changedLines,
		Label:            DraftFixLabel,
	}
}

// File returns the single affected file path and its diff.
func (f *DraftFix) File() (string, string) {
	for path, diff := range f.FilesChanged {
		return path, diff
	}
	return "", ""
}

// -- Pipeline Schemas --

// TriageTask is the unit of work queued to the triage engine.
type TriageTask struct {
	TaskID     string    `json:"task_id"`
	Report     BugReport `json:"report"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TriageResult bundles everything a single pipeline run produced, for
// notification, printing, and audit persistence.
type TriageResult struct {
	Report   BugReport          `json:"report"`
	Parsed   ParsedReport       `json:"parsed"`
	Scores   []ExpertiseScore   `json:"scores,omitempty"`
	Analysis BugAnalysis        `json:"analysis"`
	Decision AssignmentDecision `json:"decision"`
	// StaleExpertise is set when the decision was made from a cache entry
	// older than the configured TTL (served stale while refreshing).
	StaleExpertise bool   `json:"stale_expertise,omitempty"`
	DraftPRURL     string `json:"draft_pr_url,omitempty"`
	ProcessingMS   int64  `json:"processing_ms"`
}

// TriageRecord is the flattened audit row persisted per pipeline run.
type TriageRecord struct {
	ID            string    `json:"id"`
	IssueID       string    `json:"issue_id"`
	Source        string    `json:"source"`
	ErrorType     string    `json:"error_type,omitempty"`
	AffectedFiles []string  `json:"affected_files"`
	RootCause     string    `json:"root_cause,omitempty"`
	Confidence    float64   `json:"confidence"`
	RoutedToHuman bool      `json:"routed_to_human"`
	Assignee      string    `json:"assignee,omitempty"`
	DraftPRURL    string    `json:"draft_pr_url,omitempty"`
	ProcessingMS  int64     `json:"processing_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// -- Registry Schemas --

// User is a developer registry entry. GitEmail is the join key against commit
// authorship; GithubLogin and SlackID drive the side-effect collaborators.
type User struct {
	GitEmail    string    `json:"git_email"`
	GithubLogin string    `json:"github_login,omitempty"`
	SlackID     string    `json:"slack_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}
