// internal/expertise/scorer.go

// Package expertise turns a file's commit history and line ownership into a
// ranked list of developer expertise scores, and caches those rankings per
// file with stale-while-revalidate semantics.
package expertise

import (
	"math"
	"sort"
	"time"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
)

// Scorer computes per-developer expertise for a single file. It is pure
// computation over the annotated history; it never touches version control.
type Scorer struct {
	decayDays      float64
	activityWindow time.Duration

	// now is swappable so tests can pin the clock.
	now func() time.Time
}

func NewScorer(cfg config.ExpertiseConfig) *Scorer {
	decay := cfg.RecencyDecayDays
	if decay <= 0 {
		decay = 90
	}
	window := cfg.ActivityWindowDays
	if window <= 0 {
		window = 180
	}
	return &Scorer{
		decayDays:      decay,
		activityWindow: time.Duration(window) * 24 * time.Hour,
		now:            time.Now,
	}
}

// devAggregate accumulates one developer's qualifying commits.
type devAggregate struct {
	commitCount int
	weightSum   float64
	lastCommit  time.Time
}

// Score ranks every developer who either authored a qualifying commit or
// still owns lines in the file. Merge and bot commits are dropped before any
// aggregation. The score is
//
//	commit_count x mean(e^(-days_since/decay)) + lines_owned/total_lines x 100
//
// ranked descending, with equal scores broken by developer id so the order is
// stable across runs. users (keyed by git email) overrides the activity
// heuristic when the developer is registered; pass nil to rely on the
// heuristic alone.
func (s *Scorer) Score(history *schemas.FileHistory, users map[string]schemas.User) []schemas.ExpertiseScore {
	if history == nil {
		return []schemas.ExpertiseScore{}
	}
	now := s.now().UTC()

	aggregates := make(map[string]*devAggregate)
	for _, c := range history.Commits {
		if c.IsMerge || c.IsBot || c.AuthorEmail == "" {
			continue
		}
		agg := aggregates[c.AuthorEmail]
		if agg == nil {
			agg = &devAggregate{}
			aggregates[c.AuthorEmail] = agg
		}
		days := now.Sub(c.AuthoredAt).Hours() / 24
		if days < 0 {
			// Future-dated commits (clock skew, rebases) count as fresh.
			days = 0
		}
		agg.commitCount++
		agg.weightSum += math.Exp(-days / s.decayDays)
		if c.AuthoredAt.After(agg.lastCommit) {
			agg.lastCommit = c.AuthoredAt
		}
	}

	// Developers can own lines without appearing in the (capped) commit
	// window; they still rank on ownership alone.
	for email := range history.LinesByAuthor {
		if email == "" {
			continue
		}
		if _, ok := aggregates[email]; !ok {
			aggregates[email] = &devAggregate{}
		}
	}

	scores := make([]schemas.ExpertiseScore, 0, len(aggregates))
	for email, agg := range aggregates {
		recencyAvg := 0.0
		if agg.commitCount > 0 {
			recencyAvg = agg.weightSum / float64(agg.commitCount)
		}
		linesOwned := history.LinesByAuthor[email]
		ownership := 0.0
		if history.TotalLines > 0 {
			ownership = float64(linesOwned) / float64(history.TotalLines) * 100
		}
		scores = append(scores, schemas.ExpertiseScore{
			DeveloperID:  email,
			FilePath:     history.FilePath,
			Score:        float64(agg.commitCount)*recencyAvg + ownership,
			CommitCount:  agg.commitCount,
			LastCommitAt: agg.lastCommit,
			LinesOwned:   linesOwned,
			IsActive:     s.isActive(email, agg, users, now),
		})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].DeveloperID < scores[j].DeveloperID
	})
	return scores
}

// isActive prefers the registry's word over the recency heuristic.
func (s *Scorer) isActive(email string, agg *devAggregate, users map[string]schemas.User, now time.Time) bool {
	if u, ok := users[email]; ok {
		return u.IsActive
	}
	if agg.lastCommit.IsZero() {
		return false
	}
	return now.Sub(agg.lastCommit) <= s.activityWindow
}

// Eligible filters a ranked slice down to active developers, preserving
// order. An empty result is the caller's signal to route to a human.
func Eligible(scores []schemas.ExpertiseScore) []schemas.ExpertiseScore {
	eligible := make([]schemas.ExpertiseScore, 0, len(scores))
	for _, sc := range scores {
		if sc.IsActive {
			eligible = append(eligible, sc)
		}
	}
	return eligible
}
