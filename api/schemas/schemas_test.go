package schemas_test

import (
	"testing"
	"time"

	// Third party libraries for expressive and robust assertions.
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Import the package we are testing.
	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// -- Test Helpers --

// getTestTime provides a fixed, reproducible timestamp for consistent test results.
func getTestTime(t *testing.T) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, "2026-03-14T10:00:00.123456789Z")
	require.NoError(t, err, "Test setup failed: unable to parse fixed timestamp")
	return ts
}

// -- Test Cases --

// TestParseSourceLanguage verifies that user-supplied hints normalize onto the
// language enum, and that junk input degrades to unknown instead of erroring.
func TestParseSourceLanguage(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		input    string
		expected schemas.SourceLanguage
	}{
		{"CanonicalPython", "python", schemas.LangPython},
		{"ShortPython", "py", schemas.LangPython},
		{"MixedCase", "  Python ", schemas.LangPython},
		{"CanonicalJavaScript", "javascript", schemas.LangJavaScript},
		{"NodeAlias", "node", schemas.LangJavaScript},
		{"TypeScriptAlias", "ts", schemas.LangJavaScript},
		{"CanonicalJava", "java", schemas.LangJava},
		{"EmptyString", "", schemas.LangUnknown},
		{"Garbage", "brainfuck", schemas.LangUnknown},
	}

	for _, tc := range testCases {
		// Capture range variable for parallel execution.
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, schemas.ParseSourceLanguage(tt.input))
		})
	}
}

// TestNormalizeFixComplexity verifies analyzer output coercion, including the
// synonyms models actually produce.
func TestNormalizeFixComplexity(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		input    string
		expected schemas.FixComplexity
	}{
		{"Simple", "simple", schemas.ComplexitySimple},
		{"ModerateSynonym", "Medium", schemas.ComplexityModerate},
		{"ComplexSynonym", "hard", schemas.ComplexityComplex},
		{"Whitespace", " complex\n", schemas.ComplexityComplex},
		{"Unrecognized", "trivial-ish", schemas.ComplexityUnknown},
		{"Empty", "", schemas.ComplexityUnknown},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, schemas.NormalizeFixComplexity(tt.input))
		})
	}
}

// TestEstimatedEffort pins the human-facing effort phrases used in
// notifications so copy changes are deliberate.
func TestEstimatedEffort(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "1-2 hours", schemas.ComplexitySimple.EstimatedEffort())
	assert.Equal(t, "half a day", schemas.ComplexityModerate.EstimatedEffort())
	assert.Equal(t, "1-2 days", schemas.ComplexityComplex.EstimatedEffort())
	assert.Equal(t, "unknown", schemas.ComplexityUnknown.EstimatedEffort())
}

// TestTopFrame verifies that the most relevant frame is resolved by rank, not
// by slice position, and that degraded reports with no frames return nil.
func TestTopFrame(t *testing.T) {
	t.Parallel()

	t.Run("ReturnsRankOne", func(t *testing.T) {
		t.Parallel()
		parsed := &schemas.ParsedReport{
			Frames: []schemas.StackFrame{
				{FilePath: "vendor/lib/util.py", LineNumber: 10, RelevanceRank: 3},
				{FilePath: "app/handlers.py", LineNumber: 42, RelevanceRank: 1},
				{FilePath: "app/models.py", LineNumber: 7, RelevanceRank: 2},
			},
		}
		top := parsed.TopFrame()
		require.NotNil(t, top)
		assert.Equal(t, "app/handlers.py", top.FilePath)
		assert.Equal(t, 42, top.LineNumber)
	})

	t.Run("NilWhenNoFrames", func(t *testing.T) {
		t.Parallel()
		parsed := &schemas.ParsedReport{ExtractedKeywords: []string{"timeout"}}
		assert.Nil(t, parsed.TopFrame())
	})

	t.Run("NilReceiver", func(t *testing.T) {
		t.Parallel()
		var parsed *schemas.ParsedReport
		assert.Nil(t, parsed.TopFrame())
	})
}

// TestDecisionTerminal verifies the lifecycle states that stop the
// reassignment loop.
func TestDecisionTerminal(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		status   schemas.DecisionStatus
		terminal bool
	}{
		{"Assigned", schemas.StatusAssigned, false},
		{"Completed", schemas.StatusCompleted, true},
		{"Reassigned", schemas.StatusReassigned, true},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := &schemas.AssignmentDecision{
				IssueID:   "acme/api#17",
				Status:    tt.status,
				CreatedAt: getTestTime(t),
			}
			assert.Equal(t, tt.terminal, d.Terminal())
		})
	}
}

// TestNewDraftFix verifies that draft fixes always carry the review label and
// expose their single changed file.
func TestNewDraftFix(t *testing.T) {
	t.Parallel()

	fix := schemas.NewDraftFix("app/handlers.py", "--- a/app/handlers.py\n+++ b/app/handlers.py\n", 4)
	require.NotNil(t, fix)
	assert.Equal(t, schemas.DraftFixLabel, fix.Label)
	assert.Equal(t, 4, fix.LineCountChanged)

	path, diff := fix.File()
	assert.Equal(t, "app/handlers.py", path)
	assert.Contains(t, diff, "+++ b/app/handlers.py")
}

// TestErrorSentinels verifies the taxonomy sentinels are distinct, so a
// classification can never satisfy two errors.Is checks at once.
func TestErrorSentinels(t *testing.T) {
	t.Parallel()
	sentinels := []error{
		schemas.ErrDegradedInput,
		schemas.ErrExternalDependency,
		schemas.ErrPolicyViolation,
		schemas.ErrNoEligibleCandidate,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.NotErrorIs(t, a, b)
		}
	}
}
