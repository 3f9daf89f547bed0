package schemas

import "strings"

// -- Language Constants --

// SourceLanguage identifies the stack-trace convention a report was written
// in. Unknown is a valid value: the parser then falls back to keyword
// extraction.
type SourceLanguage string

const (
	LangPython     SourceLanguage = "python"
	LangJavaScript SourceLanguage = "javascript"
	LangJava       SourceLanguage = "java"
	LangUnknown    SourceLanguage = "unknown"
)

// ParseSourceLanguage normalizes a user-supplied language string. Unrecognized
// values map to LangUnknown rather than erroring; a hint is advisory only.
func ParseSourceLanguage(s string) SourceLanguage {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "python", "py":
		return LangPython
	case "javascript", "js", "typescript", "ts", "node":
		return LangJavaScript
	case "java":
		return LangJava
	default:
		return LangUnknown
	}
}

// -- Report Source Constants --

// ReportSource names the ingress adapter that produced a BugReport.
type ReportSource string

const (
	SourceGithubIssue ReportSource = "github_issue"
	SourceCrashLog    ReportSource = "crash_log"
	SourceJUnit       ReportSource = "junit"
)

// -- Analysis Constants --

// FixComplexity is the analyzer's effort estimate. ComplexityUnknown is the
// degraded value used when the analyzer was unavailable.
type FixComplexity string

const (
	ComplexitySimple   FixComplexity = "simple"
	ComplexityModerate FixComplexity = "moderate"
	ComplexityComplex  FixComplexity = "complex"
	ComplexityUnknown  FixComplexity = "unknown"
)

// NormalizeFixComplexity coerces arbitrary analyzer output onto the enum.
func NormalizeFixComplexity(s string) FixComplexity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simple":
		return ComplexitySimple
	case "moderate", "medium":
		return ComplexityModerate
	case "complex", "hard":
		return ComplexityComplex
	default:
		return ComplexityUnknown
	}
}

// EstimatedEffort maps a complexity to the human-facing effort phrase used in
// notifications.
func (c FixComplexity) EstimatedEffort() string {
	switch c {
	case ComplexitySimple:
		return "1-2 hours"
	case ComplexityModerate:
		return "half a day"
	case ComplexityComplex:
		return "1-2 days"
	default:
		return "unknown"
	}
}

// -- Decision Constants --

// DecisionStatus is the lifecycle state of an AssignmentDecision. StatusAssigned
// is the only non-terminal state and is what the loop-prevention check keys on.
type DecisionStatus string

const (
	StatusAssigned   DecisionStatus = "assigned"
	StatusCompleted  DecisionStatus = "completed"
	StatusReassigned DecisionStatus = "reassigned"
)

// -- Labels --

const (
	// DraftFixLabel is the literal constant every DraftFix carries so that
	// downstream consumers (PR creation, notification) never re-derive the
	// draft marking.
	DraftFixLabel = "DRAFT - Review Required"

	// GeneratedByLabel marks pull requests opened by the pipeline.
	GeneratedByLabel = "mahoraga-generated"

	// BugFixLabel categorizes generated pull requests.
	BugFixLabel = "bug-fix"
)

// -- Config Keys --

// ConfigKeyConfidenceThreshold is the system_config key holding the runtime
// override for the human-routing threshold.
const ConfigKeyConfidenceThreshold = "confidence_threshold"

// -- Model Tiers --

// ModelTier selects a model class for an LLM request without naming a
// concrete model; the client maps tiers to configured model IDs.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)
