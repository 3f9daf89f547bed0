// internal/draftfix/generator.go

// Package draftfix conditionally proposes a small single-file patch for
// very-high-confidence bugs. Returning nothing is the expected outcome for
// most inputs; nothing in this package ever surfaces an error to the
// pipeline.
package draftfix

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
	"github.com/xkilldash9x/mahoraga/internal/llmutil"
)

const (
	// fixTemperature keeps generated patches conservative.
	fixTemperature = 0.2
	// maxFixTokens bounds the model response.
	maxFixTokens = 1024
)

const fixSystemPrompt = `You are an expert software engineer producing a minimal bug-fix patch. You respond with a single unified diff and nothing else: no prose, no markdown fences, no explanations.`

// Generator gates and produces draft fixes. All failure modes degrade to a
// nil draft.
type Generator struct {
	logger *zap.Logger
	llm    schemas.LLMClient
	cfg    config.DraftFixConfig
}

// NewGenerator builds a draft fix generator. Zero config values fall back to
// the documented gate (confidence > 85, fewer than 20 changed lines).
func NewGenerator(logger *zap.Logger, llm schemas.LLMClient, cfg config.DraftFixConfig) *Generator {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 85
	}
	if cfg.MaxChangedLines <= 0 {
		cfg.MaxChangedLines = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		logger: logger.Named("draftfix"),
		llm:    llm,
		cfg:    cfg,
	}
}

// Generate returns a validated DraftFix, or nil when the preconditions do not
// hold or the generated patch fails the constraints. The preconditions are
// checked before any model call: an assigned (not human-routed) decision with
// confidence strictly above the gate and exactly one affected file.
func (g *Generator) Generate(ctx context.Context, analysis schemas.BugAnalysis, decision schemas.AssignmentDecision, fileContent string) *schemas.DraftFix {
	if !g.cfg.Enabled {
		return nil
	}
	if decision.RoutedToHuman {
		return nil
	}
	if decision.Confidence <= g.cfg.MinConfidence {
		return nil
	}
	if len(analysis.AffectedFiles) != 1 {
		return nil
	}
	filePath := analysis.AffectedFiles[0]

	temperature := fixTemperature
	raw, err := g.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: fixSystemPrompt,
		UserPrompt:   g.buildPrompt(analysis, filePath, fileContent),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     &temperature,
			MaxOutputTokens: maxFixTokens,
		},
	})
	if err != nil {
		g.logger.Warn("Draft fix generation failed; proceeding without a draft",
			zap.String("file", filePath),
			zap.Error(err),
		)
		return nil
	}

	diff := llmutil.StripCodeFences(raw)
	if err := g.validateDiff(diff, filePath, fileContent); err != nil {
		g.logger.Warn("Generated patch rejected; proceeding without a draft",
			zap.String("file", filePath),
			zap.Error(err),
		)
		return nil
	}

	summary, _ := llmutil.SummarizeDiff(diff)
	g.logger.Info("Draft fix generated",
		zap.String("file", filePath),
		zap.Int("changed_lines", summary.ChangedLines()),
	)
	return schemas.NewDraftFix(filePath, diff, summary.ChangedLines())
}

// buildPrompt asks for the smallest unified diff that fixes the hypothesized
// root cause in the one affected file.
func (g *Generator) buildPrompt(analysis schemas.BugAnalysis, filePath, fileContent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Root Cause:\n%s\n\n", analysis.RootCauseHypothesis)
	if analysis.Explanation != "" {
		fmt.Fprintf(&b, "## Explanation:\n%s\n\n", analysis.Explanation)
	}
	fmt.Fprintf(&b, "## Current Content of %s:\n```\n%s\n```\n\n", filePath, fileContent)
	fmt.Fprintf(&b, `## Patch Required:

Produce a unified diff that fixes the root cause. Rules:
- Touch only %s, with headers "--- a/%s" and "+++ b/%s"
- Change fewer than %d lines in total
- Make the smallest change that fixes the bug; no refactoring
- Output the raw diff only`, filePath, filePath, filePath, g.cfg.MaxChangedLines)
	return b.String()
}

// validateDiff enforces the single-file and changed-line constraints against
// the diff itself, never against the model's claims, and confirms the patch
// actually applies to the current file content.
func (g *Generator) validateDiff(diff, filePath, fileContent string) error {
	summary, err := llmutil.SummarizeDiff(diff)
	if err != nil {
		return fmt.Errorf("%w: %w", schemas.ErrPolicyViolation, err)
	}
	if len(summary.Files) != 1 {
		return fmt.Errorf("%w: patch touches %d files, need exactly 1", schemas.ErrPolicyViolation, len(summary.Files))
	}
	if summary.Files[0] != filePath {
		return fmt.Errorf("%w: patch targets %q, expected %q", schemas.ErrPolicyViolation, summary.Files[0], filePath)
	}
	if summary.ChangedLines() == 0 {
		return fmt.Errorf("%w: patch contains no changes", schemas.ErrPolicyViolation)
	}
	if summary.ChangedLines() >= g.cfg.MaxChangedLines {
		return fmt.Errorf("%w: patch changes %d lines, limit is under %d",
			schemas.ErrPolicyViolation, summary.ChangedLines(), g.cfg.MaxChangedLines)
	}
	if _, err := llmutil.ApplyUnifiedDiff(fileContent, diff); err != nil {
		return fmt.Errorf("%w: patch does not apply: %w", schemas.ErrPolicyViolation, err)
	}
	return nil
}
