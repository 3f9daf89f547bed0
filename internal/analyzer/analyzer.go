// internal/analyzer/analyzer.go

// Package analyzer asks a language model for a root-cause verdict on a
// parsed bug report. The provider sits behind a circuit breaker, bounded
// retry, and a per-attempt timeout; every failure mode degrades to a
// zero-confidence analysis instead of an error, so the pipeline always
// proceeds to a routing decision.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
	"github.com/xkilldash9x/mahoraga/internal/llmclient"
	"github.com/xkilldash9x/mahoraga/internal/llmutil"
)

const (
	// maxPromptFrames caps how many stack frames the prompt carries.
	maxPromptFrames = 5
	// analysisTemperature keeps verdicts consistent across runs.
	analysisTemperature = 0.1
	// maxAnalysisTokens bounds the model response.
	maxAnalysisTokens = 2048
)

const analysisSystemPrompt = `You are an expert software engineer analyzing a bug report. You diagnose the root cause from the stack trace and the surrounding code, explain it in plain terms for the assigned developer, and respond only in the required JSON format.`

const analysisInstructions = `## Analysis Required:

Provide your analysis in the following JSON format:
{
  "affected_files": ["list of file paths that might be affected beyond the stack trace"],
  "root_cause_hypothesis": "your hypothesis about what caused this bug",
  "plain_english_explanation": "explain the technical issue in simple terms",
  "fix_complexity": "simple|moderate|complex",
  "confidence": 85,
  "error_translation": "translate cryptic error messages into an actionable description"
}

Guidelines:
- Focus on actionable insights for developers
- Consider the programming language and framework context
- Identify files beyond the stack trace that might need attention
- Translate technical jargon into clear explanations
- Assess fix complexity based on scope and risk
- Provide a confidence score between 0 and 100
- Respond with JSON only, no surrounding prose`

// analysisResponse is the JSON contract the model is asked to fill.
type analysisResponse struct {
	AffectedFiles       []string `json:"affected_files"`
	RootCauseHypothesis string   `json:"root_cause_hypothesis"`
	Explanation         string   `json:"plain_english_explanation"`
	FixComplexity       string   `json:"fix_complexity"`
	Confidence          float64  `json:"confidence"`
	ErrorTranslation    string   `json:"error_translation"`
}

// Analyzer is the LLM analysis stage.
type Analyzer struct {
	logger  *zap.Logger
	llm     schemas.LLMClient
	breaker *CircuitBreaker
	cfg     config.AnalyzerConfig

	// backoffFactory is a test seam; production uses the exponential policy.
	backoffFactory func() backoff.BackOff
}

// NewAnalyzer wires the analysis stage to an LLM client. Zero config values
// fall back to the documented defaults.
func NewAnalyzer(logger *zap.Logger, llm schemas.LLMClient, cfg config.AnalyzerConfig) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("analyzer")

	a := &Analyzer{
		logger:  logger,
		llm:     llm,
		breaker: NewCircuitBreaker(cfg.Breaker, logger),
		cfg:     cfg,
	}
	a.backoffFactory = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.InitialBackoff
		b.MaxInterval = 15 * time.Second
		b.MaxElapsedTime = 0 // bounded by attempt count and ctx, not wall clock
		return b
	}
	return a
}

// BreakerState reports the circuit breaker state for health surfaces.
func (a *Analyzer) BreakerState() string {
	return a.breaker.State()
}

// Analyze produces a verdict for one report. It never returns an error: when
// the provider is unreachable, exhausted, or talking nonsense, the result is
// a degraded zero-confidence analysis and the failure is noted in the
// explanation.
func (a *Analyzer) Analyze(ctx context.Context, report schemas.BugReport, parsed schemas.ParsedReport, codeContext string) schemas.BugAnalysis {
	start := time.Now()
	a.logger.Info("Starting bug analysis",
		zap.String("issue_id", report.IssueID),
		zap.String("language", string(parsed.SourceLanguage)),
		zap.Int("frames", len(parsed.Frames)),
	)

	temperature := analysisTemperature
	req := schemas.GenerationRequest{
		SystemPrompt: analysisSystemPrompt,
		UserPrompt:   a.buildPrompt(report, parsed, codeContext),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     &temperature,
			MaxOutputTokens: maxAnalysisTokens,
		},
	}

	raw, err := a.generateWithGuards(ctx, req)
	if err != nil {
		a.logger.Warn("Bug analysis degraded",
			zap.String("issue_id", report.IssueID),
			zap.Error(err),
		)
		return degradedAnalysis(describeFailure(err))
	}

	resp, err := llmutil.ParseJSON[analysisResponse](raw)
	if err != nil {
		a.logger.Error("Failed to parse analysis response",
			zap.String("issue_id", report.IssueID),
			zap.Error(err),
		)
		return degradedAnalysis("the model returned a malformed response")
	}

	analysis, err := a.validate(resp)
	if err != nil {
		a.logger.Error("Analysis response failed validation",
			zap.String("issue_id", report.IssueID),
			zap.Error(err),
		)
		return degradedAnalysis("the model response failed validation")
	}

	a.logger.Info("Bug analysis complete",
		zap.String("issue_id", report.IssueID),
		zap.Float64("confidence", analysis.Confidence),
		zap.String("fix_complexity", string(analysis.FixComplexity)),
		zap.Duration("duration", time.Since(start)),
	)
	return analysis
}

// generateWithGuards runs one generation request through the breaker, the
// bounded retry policy, and the per-attempt timeout. MaxRetries counts total
// attempts.
func (a *Analyzer) generateWithGuards(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	var response string
	attempt := 0

	operation := func() error {
		attempt++
		if err := a.breaker.Allow(); err != nil {
			return backoff.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		raw, err := a.llm.Generate(attemptCtx, req)
		cancel()

		if err == nil {
			a.breaker.RecordSuccess()
			response = raw
			return nil
		}

		// An attempt timeout is retryable while the caller still waits;
		// cancellation of the caller's context is final.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			a.breaker.RecordFailure()
			a.logger.Warn("LLM attempt timed out",
				zap.Int("attempt", attempt),
				zap.Duration("timeout", a.cfg.Timeout),
			)
			return fmt.Errorf("attempt %d timed out after %s: %w", attempt, a.cfg.Timeout, err)
		}
		if !llmclient.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		a.breaker.RecordFailure()
		a.logger.Warn("LLM attempt failed, will retry",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(a.backoffFactory(), uint64(a.cfg.MaxRetries-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return response, nil
}

// buildPrompt assembles the user prompt from the report, the parsed trace,
// and the extracted code context.
func (a *Analyzer) buildPrompt(report schemas.BugReport, parsed schemas.ParsedReport, codeContext string) string {
	var b strings.Builder

	b.WriteString("## Bug Report:\n")
	if report.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", report.Title)
	}
	b.WriteString(report.Body)
	b.WriteString("\n\n")

	if len(parsed.Frames) > 0 || parsed.ErrorType != "" || parsed.ErrorMessage != "" {
		b.WriteString("## Stack Trace Analysis:\n")
		fmt.Fprintf(&b, "Language: %s\n", parsed.SourceLanguage)
		if parsed.ErrorType != "" {
			fmt.Fprintf(&b, "Error Type: %s\n", parsed.ErrorType)
		}
		if parsed.ErrorMessage != "" {
			fmt.Fprintf(&b, "Error Message: %s\n", parsed.ErrorMessage)
		}
		if len(parsed.Frames) > 0 {
			b.WriteString("\n### Stack Frames (most relevant first):\n")
			frames := parsed.Frames
			if len(frames) > maxPromptFrames {
				frames = frames[:maxPromptFrames]
			}
			for i, frame := range frames {
				fmt.Fprintf(&b, "%d. %s:%d in %s\n", i+1, frame.FilePath, frame.LineNumber, frame.FunctionName)
			}
		}
		b.WriteString("\n")
	}

	if len(parsed.ExtractedKeywords) > 0 {
		fmt.Fprintf(&b, "## Extracted Keywords:\n%s\n\n", strings.Join(parsed.ExtractedKeywords, ", "))
	}

	if codeContext != "" {
		fmt.Fprintf(&b, "## Additional Code Context:\n%s\n\n", codeContext)
	}

	b.WriteString(analysisInstructions)
	return b.String()
}

// validate coerces the raw model response onto the BugAnalysis contract.
func (a *Analyzer) validate(resp *analysisResponse) (schemas.BugAnalysis, error) {
	if strings.TrimSpace(resp.RootCauseHypothesis) == "" || strings.TrimSpace(resp.Explanation) == "" {
		return schemas.BugAnalysis{}, fmt.Errorf("analysis response missing root_cause_hypothesis or plain_english_explanation")
	}

	confidence := resp.Confidence
	if confidence > 0 && confidence <= 1 {
		// Models occasionally answer on the unit scale despite the prompt.
		a.logger.Debug("Rescaling unit-scale confidence", zap.Float64("raw", confidence))
		confidence *= 100
	}
	if confidence < 0 || confidence > 100 {
		a.logger.Warn("Confidence out of range, clamping", zap.Float64("raw", resp.Confidence))
		confidence = math.Max(0, math.Min(100, confidence))
	}

	complexity := schemas.NormalizeFixComplexity(resp.FixComplexity)
	if complexity == schemas.ComplexityUnknown {
		a.logger.Warn("Unrecognized fix complexity, defaulting to moderate", zap.String("raw", resp.FixComplexity))
		complexity = schemas.ComplexityModerate
	}

	return schemas.BugAnalysis{
		AffectedFiles:       dedupeFiles(resp.AffectedFiles),
		RootCauseHypothesis: strings.TrimSpace(resp.RootCauseHypothesis),
		Explanation:         strings.TrimSpace(resp.Explanation),
		ErrorTranslation:    strings.TrimSpace(resp.ErrorTranslation),
		FixComplexity:       complexity,
		Confidence:          confidence,
	}, nil
}

// dedupeFiles drops empty and repeated paths, keeping first-seen order.
func dedupeFiles(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// degradedAnalysis is the zero-confidence result used whenever the analyzer
// could not produce a trustworthy verdict.
func degradedAnalysis(reason string) schemas.BugAnalysis {
	return schemas.BugAnalysis{
		Explanation:   fmt.Sprintf("Automated analysis was unavailable: %s. Routing falls back to a human triager.", reason),
		FixComplexity: schemas.ComplexityUnknown,
		Confidence:    0,
		Degraded:      true,
	}
}

// describeFailure turns a guard-chain error into the human-facing phrase
// embedded in the degraded explanation.
func describeFailure(err error) string {
	switch {
	case errors.Is(err, ErrBreakerOpen):
		return "the analyzer circuit breaker is open"
	case errors.Is(err, context.DeadlineExceeded):
		return "the analysis timed out"
	case errors.Is(err, context.Canceled):
		return "the analysis was canceled"
	case errors.Is(err, llmclient.ErrContentBlocked):
		return "the provider refused the prompt"
	default:
		return "the language model provider failed"
	}
}
