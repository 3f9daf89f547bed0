// internal/assignment/decider.go

// Package assignment combines the analyzer's confidence with the expertise
// ranking and routing policy to produce the terminal AssignmentDecision of a
// triage run.
package assignment

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
	"github.com/xkilldash9x/mahoraga/internal/expertise"
)

// Decider applies the routing policy: blend confidences, pick a candidate,
// break ties on workload, and never re-emit an identical open decision.
type Decider struct {
	logger *zap.Logger
	cfg    config.TriageConfig

	// now is swappable so tests can pin decision timestamps.
	now func() time.Time
	// newID is swappable so tests get deterministic decision IDs.
	newID func() string
}

// NewDecider builds a Decider. Zero config values fall back to the documented
// defaults (threshold 60, epsilon 5, analysis weight 0.7).
func NewDecider(logger *zap.Logger, cfg config.TriageConfig) *Decider {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 60
	}
	if cfg.TieEpsilon < 0 {
		cfg.TieEpsilon = 5
	}
	if cfg.AnalysisWeight <= 0 || cfg.AnalysisWeight > 1 {
		cfg.AnalysisWeight = 0.7
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decider{
		logger: logger.Named("decider"),
		cfg:    cfg,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Decide produces the routing decision for one issue. It is deterministic for
// equal inputs: ties within the epsilon resolve on workload, then on
// developer id. When history already holds an open decision for the same
// candidate, that decision is returned unchanged (idempotent re-submission).
func (d *Decider) Decide(
	ctx context.Context,
	issueID string,
	analysis schemas.BugAnalysis,
	ranked []schemas.ExpertiseScore,
	workloads map[string]int,
	history []schemas.AssignmentDecision,
) schemas.AssignmentDecision {
	_ = ctx // kept for interface symmetry; deciding is pure computation

	eligible := expertise.Eligible(ranked)
	certainty := ownershipCertainty(eligible)
	final := clamp(d.cfg.AnalysisWeight*analysis.Confidence + (1-d.cfg.AnalysisWeight)*certainty)

	if len(eligible) == 0 {
		return d.finalize(issueID, history, schemas.AssignmentDecision{
			Confidence:    final,
			RoutedToHuman: true,
			Reasoning: fmt.Sprintf(
				"Routed to human triage: no active developer has qualifying history for the implicated file (analysis confidence %.1f).",
				analysis.Confidence),
		})
	}

	if final < d.threshold() {
		return d.finalize(issueID, history, schemas.AssignmentDecision{
			Confidence:    final,
			RoutedToHuman: true,
			Reasoning: fmt.Sprintf(
				"Routed to human triage: blended confidence %.1f is below the %.0f threshold (analysis %.1f, ownership certainty %.1f, top candidate %s).",
				final, d.threshold(), analysis.Confidence, certainty, eligible[0].DeveloperID),
		})
	}

	candidate, tieBroken := d.pickCandidate(eligible, workloads)

	reasoning := fmt.Sprintf(
		"Assigned to %s: expertise score %.2f (%d commits, %d lines owned), ownership certainty %.1f, analysis confidence %.1f, blended %.1f.",
		candidate.DeveloperID, candidate.Score, candidate.CommitCount, candidate.LinesOwned,
		certainty, analysis.Confidence, final)
	if tieBroken {
		reasoning += fmt.Sprintf(" Tie within %.1f points broken by workload (%d open assignments).",
			d.cfg.TieEpsilon, workloads[candidate.DeveloperID])
	}

	decision := d.finalize(issueID, history, schemas.AssignmentDecision{
		AssigneeID: candidate.DeveloperID,
		Confidence: final,
		Reasoning:  reasoning,
	})
	d.logger.Info("Assignment decided",
		zap.String("issue_id", issueID),
		zap.String("assignee", decision.AssigneeID),
		zap.Float64("confidence", decision.Confidence),
		zap.Bool("routed_to_human", decision.RoutedToHuman),
	)
	return decision
}

// threshold returns the effective human-routing threshold.
func (d *Decider) threshold() float64 { return d.cfg.ConfidenceThreshold }

// pickCandidate selects from the tie group (scores within epsilon of the top)
// the developer with the lowest workload, then the lexicographically smallest
// id. The second return reports whether the tie group had more than one
// member.
func (d *Decider) pickCandidate(eligible []schemas.ExpertiseScore, workloads map[string]int) (schemas.ExpertiseScore, bool) {
	top := eligible[0].Score
	group := make([]schemas.ExpertiseScore, 0, len(eligible))
	for _, s := range eligible {
		if top-s.Score <= d.cfg.TieEpsilon {
			group = append(group, s)
		}
	}
	if len(group) == 1 {
		return group[0], false
	}
	sort.SliceStable(group, func(i, j int) bool {
		wi, wj := workloads[group[i].DeveloperID], workloads[group[j].DeveloperID]
		if wi != wj {
			return wi < wj
		}
		return group[i].DeveloperID < group[j].DeveloperID
	})
	return group[0], true
}

// finalize stamps identity and lifecycle fields, applying loop prevention
// first: an open decision for the same issue and the same assignee wins over
// a freshly minted duplicate.
func (d *Decider) finalize(issueID string, history []schemas.AssignmentDecision, decision schemas.AssignmentDecision) schemas.AssignmentDecision {
	for i := range history {
		prior := &history[i]
		if prior.Terminal() {
			continue
		}
		if prior.IssueID == issueID && prior.AssigneeID == decision.AssigneeID && prior.RoutedToHuman == decision.RoutedToHuman {
			d.logger.Info("Reusing existing open decision",
				zap.String("issue_id", issueID),
				zap.String("decision_id", prior.ID),
				zap.String("assignee", prior.AssigneeID),
			)
			return *prior
		}
	}

	now := d.now().UTC()
	decision.ID = d.newID()
	decision.IssueID = issueID
	decision.Status = schemas.StatusAssigned
	decision.CreatedAt = now
	decision.UpdatedAt = now
	return decision
}

// ownershipCertainty measures how clearly one developer owns the file, on the
// same 0-100 scale as analysis confidence: a sole candidate is certain, a
// near-tie is not, and an empty or zero-scored list carries no signal.
func ownershipCertainty(eligible []schemas.ExpertiseScore) float64 {
	if len(eligible) == 0 || eligible[0].Score <= 0 {
		return 0
	}
	if len(eligible) == 1 {
		return 100
	}
	return 100 * (eligible[0].Score - eligible[1].Score) / eligible[0].Score
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
