// internal/pipeline/pipeline.go

// Package pipeline runs the per-report stage sequence: parse, expertise
// lookup, LLM analysis, assignment decision, optional draft fix, then
// persistence and side effects. The pipeline is the outer error boundary of a
// triage run: whatever fails inside, the caller gets back a well-formed
// decision.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/analyzer"
	"github.com/xkilldash9x/mahoraga/internal/assignment"
	"github.com/xkilldash9x/mahoraga/internal/draftfix"
	"github.com/xkilldash9x/mahoraga/internal/expertise"
	"github.com/xkilldash9x/mahoraga/internal/trace"
)

// Deps collects the pipeline's collaborators. The core stages are concrete
// (they never fail outward); the side-effect collaborators sit behind the
// schemas interfaces so tests can script them.
type Deps struct {
	Logger    *zap.Logger
	Parser    *trace.Parser
	Expertise *expertise.Cache
	Extractor *analyzer.ContextExtractor
	Analyzer  *analyzer.Analyzer
	Decider   *assignment.Decider
	Generator *draftfix.Generator
	History   schemas.HistoryProvider
	Store     schemas.TriageStore
	Notifier  schemas.Notifier
	Host      schemas.CodeHost
}

// Pipeline executes triage runs. Concurrent runs for the same issue share a
// single execution through the per-issue flight group; sequential duplicates
// are caught by the store's conditional insert.
type Pipeline struct {
	deps    Deps
	logger  *zap.Logger
	flights singleflight.Group
	now     func() time.Time
	newID   func() string
}

// New builds a pipeline from its collaborators.
func New(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		deps:   deps,
		logger: logger.Named("pipeline"),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Run triages one report. It never returns an error for in-pipeline failures;
// those degrade into a human-routed decision with the cause in the reasoning.
func (p *Pipeline) Run(ctx context.Context, report schemas.BugReport) (*schemas.TriageResult, error) {
	v, err, shared := p.flights.Do(report.IssueID, func() (any, error) {
		return p.run(ctx, report), nil
	})
	if err != nil {
		// The flight function never errors; this guards against future edits.
		return nil, err
	}
	if shared {
		p.logger.Info("Duplicate in-flight delivery shared one triage run",
			zap.String("issue_id", report.IssueID))
	}
	return v.(*schemas.TriageResult), nil
}

// run is one triage execution behind the flight group.
func (p *Pipeline) run(ctx context.Context, report schemas.BugReport) (result *schemas.TriageResult) {
	start := p.now()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Triage run panicked, routing to human",
				zap.String("issue_id", report.IssueID),
				zap.Any("panic", r))
			result = p.fallbackResult(report, start, fmt.Sprintf("internal failure during triage: %v", r))
		}
	}()

	log := p.logger.With(zap.String("issue_id", report.IssueID))

	// Stage 1: parse.
	parsed := p.deps.Parser.ParseReport(&report)
	log.Debug("Report parsed",
		zap.String("language", string(parsed.SourceLanguage)),
		zap.Int("frames", len(parsed.Frames)),
		zap.String("error_type", parsed.ErrorType))

	// Stage 2: expertise ranking for the implicated file.
	var scores []schemas.ExpertiseScore
	staleExpertise := false
	if top := parsed.TopFrame(); top != nil && top.FilePath != "" {
		res, err := p.deps.Expertise.Get(ctx, top.FilePath)
		if err != nil {
			log.Warn("Expertise lookup failed, proceeding without candidates",
				zap.String("file_path", top.FilePath), zap.Error(err))
		} else {
			scores = res.Scores
			staleExpertise = res.Stale
		}
	}

	// Stage 3: LLM analysis over the trace plus code context.
	codeContext := p.deps.Extractor.Extract(ctx, parsed)
	analysis := p.deps.Analyzer.Analyze(ctx, report, *parsed, codeContext)

	// Stage 4: decide.
	workloads := p.workloads(ctx, log, scores)
	history, err := p.deps.Store.FindDecisionsByIssue(ctx, report.IssueID)
	if err != nil {
		log.Warn("Decision history read failed, loop prevention degraded", zap.Error(err))
		history = nil
	}
	decision := p.deps.Decider.Decide(ctx, report.IssueID, analysis, scores, workloads, history)

	// Stage 5: optional draft fix. Worth a worktree read only when the
	// decision could carry one.
	if !decision.RoutedToHuman && decision.DraftFix == nil && len(analysis.AffectedFiles) == 1 {
		content, err := p.deps.History.FileAtHead(ctx, analysis.AffectedFiles[0])
		if err != nil {
			log.Warn("Worktree read for draft fix failed",
				zap.String("file_path", analysis.AffectedFiles[0]), zap.Error(err))
		} else {
			decision.DraftFix = p.deps.Generator.Generate(ctx, analysis, decision, content)
		}
	}

	// Persist. The conditional insert makes re-deliveries converge on the
	// stored decision.
	created := false
	if saved, wasCreated, err := p.deps.Store.SaveDecision(ctx, &decision); err != nil {
		log.Error("Decision persistence failed, continuing with unpersisted decision", zap.Error(err))
	} else {
		decision = *saved
		created = wasCreated
		if !created {
			log.Info("Open decision already recorded for issue, suppressing side effects",
				zap.String("decision_id", decision.ID))
		}
	}

	result = &schemas.TriageResult{
		Report:         report,
		Parsed:         *parsed,
		Scores:         scores,
		Analysis:       analysis,
		Decision:       decision,
		StaleExpertise: staleExpertise,
	}

	// Side effects run only for fresh decisions; re-deliveries must not
	// double-comment or double-notify.
	if created {
		if prURL, err := p.deps.Host.ApplyDecision(ctx, result); err != nil {
			log.Warn("Tracker side effects incomplete", zap.Error(err))
			result.DraftPRURL = prURL
		} else {
			result.DraftPRURL = prURL
		}
		p.notify(ctx, log, result)
	}

	result.ProcessingMS = p.now().Sub(start).Milliseconds()

	if err := p.deps.Store.SaveTriageRecord(ctx, p.record(result)); err != nil {
		log.Warn("Audit record persistence failed", zap.Error(err))
	}

	log.Info("Triage run complete",
		zap.String("assignee", decision.AssigneeID),
		zap.Float64("confidence", decision.Confidence),
		zap.Bool("routed_to_human", decision.RoutedToHuman),
		zap.Bool("draft_fix", decision.DraftFix != nil),
		zap.Int64("processing_ms", result.ProcessingMS))
	return result
}

// workloads reads open-assignment counts for the active candidates. A failed
// count degrades to zero rather than failing the run.
func (p *Pipeline) workloads(ctx context.Context, log *zap.Logger, scores []schemas.ExpertiseScore) map[string]int {
	eligible := expertise.Eligible(scores)
	if len(eligible) == 0 {
		return nil
	}
	workloads := make(map[string]int, len(eligible))
	for _, s := range eligible {
		count, err := p.deps.Store.CountOpenAssignments(ctx, s.DeveloperID)
		if err != nil {
			log.Warn("Workload count failed, assuming zero",
				zap.String("developer_id", s.DeveloperID), zap.Error(err))
			count = 0
		}
		workloads[s.DeveloperID] = count
	}
	return workloads
}

// notify dispatches to the escalation or assignment channel. Failures are
// logged; the decision stands either way.
func (p *Pipeline) notify(ctx context.Context, log *zap.Logger, result *schemas.TriageResult) {
	var err error
	if result.Decision.RoutedToHuman {
		err = p.deps.Notifier.Escalate(ctx, result)
	} else {
		err = p.deps.Notifier.Notify(ctx, result)
	}
	if err != nil {
		log.Warn("Notification delivery failed", zap.Error(err))
	}
}

// record flattens a run into its audit row.
func (p *Pipeline) record(result *schemas.TriageResult) *schemas.TriageRecord {
	return &schemas.TriageRecord{
		ID:            p.newID(),
		IssueID:       result.Report.IssueID,
		Source:        string(result.Report.Source),
		ErrorType:     result.Parsed.ErrorType,
		AffectedFiles: result.Analysis.AffectedFiles,
		RootCause:     result.Analysis.RootCauseHypothesis,
		Confidence:    result.Decision.Confidence,
		RoutedToHuman: result.Decision.RoutedToHuman,
		Assignee:      result.Decision.AssigneeID,
		DraftPRURL:    result.DraftPRURL,
		ProcessingMS:  result.ProcessingMS,
		CreatedAt:     p.now(),
	}
}

// fallbackResult is the panic-boundary product: a persisted-if-possible,
// human-routed decision that names the failure.
func (p *Pipeline) fallbackResult(report schemas.BugReport, start time.Time, reason string) *schemas.TriageResult {
	now := p.now()
	decision := schemas.AssignmentDecision{
		ID:            p.newID(),
		IssueID:       report.IssueID,
		Confidence:    0,
		RoutedToHuman: true,
		Reasoning:     reason,
		Status:        schemas.StatusAssigned,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return &schemas.TriageResult{
		Report:       report,
		Decision:     decision,
		Analysis:     schemas.BugAnalysis{Confidence: 0, FixComplexity: schemas.ComplexityUnknown, Degraded: true},
		ProcessingMS: now.Sub(start).Milliseconds(),
	}
}
