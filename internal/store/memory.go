// internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// MemoryStore is the in-memory schemas.TriageStore used by one-shot and watch
// modes and by tests. The same conditional-insert guard as the PostgreSQL
// store holds, enforced under one mutex.
type MemoryStore struct {
	log *zap.Logger

	mu         sync.RWMutex
	decisions  map[string][]schemas.AssignmentDecision // issue_id -> newest first
	byID       map[string]*decisionRef
	expertise  map[string]expertiseEntry
	users      map[string]schemas.User
	records    []schemas.TriageRecord
	configVals map[string]string
}

type decisionRef struct {
	issueID string
	index   int
}

type expertiseEntry struct {
	scores     []schemas.ExpertiseScore
	computedAt time.Time
}

var _ schemas.TriageStore = (*MemoryStore)(nil)

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		log:        logger.Named("memstore"),
		decisions:  make(map[string][]schemas.AssignmentDecision),
		byID:       make(map[string]*decisionRef),
		expertise:  make(map[string]expertiseEntry),
		users:      make(map[string]schemas.User),
		configVals: make(map[string]string),
	}
}

// SaveDecision implements the conditional insert: an existing open decision
// for the issue wins over the incoming one.
func (m *MemoryStore) SaveDecision(ctx context.Context, decision *schemas.AssignmentDecision) (*schemas.AssignmentDecision, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.decisions[decision.IssueID] {
		existing := m.decisions[decision.IssueID][i]
		if existing.Status == schemas.StatusAssigned {
			copied := existing
			return &copied, false, nil
		}
	}

	list := append([]schemas.AssignmentDecision{*decision}, m.decisions[decision.IssueID]...)
	m.decisions[decision.IssueID] = list
	m.reindexLocked(decision.IssueID)
	return decision, true, nil
}

// FindDecisionsByIssue returns decisions newest first.
func (m *MemoryStore) FindDecisionsByIssue(ctx context.Context, issueID string) ([]schemas.AssignmentDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.decisions[issueID]
	out := make([]schemas.AssignmentDecision, len(list))
	copy(out, list)
	return out, nil
}

// UpdateDecisionStatus moves a decision to a new lifecycle status.
func (m *MemoryStore) UpdateDecisionStatus(ctx context.Context, decisionID string, status schemas.DecisionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.byID[decisionID]
	if !ok {
		return fmt.Errorf("decision %s not found", decisionID)
	}
	d := &m.decisions[ref.issueID][ref.index]
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// GetExpertise reads the cached ranking for a file.
func (m *MemoryStore) GetExpertise(ctx context.Context, filePath string) ([]schemas.ExpertiseScore, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.expertise[filePath]
	if !ok {
		return nil, time.Time{}, nil
	}
	out := make([]schemas.ExpertiseScore, len(entry.scores))
	copy(out, entry.scores)
	return out, entry.computedAt, nil
}

// UpsertExpertise replaces the cached ranking for a file.
func (m *MemoryStore) UpsertExpertise(ctx context.Context, filePath string, scores []schemas.ExpertiseScore, computedAt time.Time) error {
	stored := make([]schemas.ExpertiseScore, len(scores))
	copy(stored, scores)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expertise[filePath] = expertiseEntry{scores: stored, computedAt: computedAt}
	return nil
}

// ListUsers returns the registry sorted by email for deterministic output.
func (m *MemoryStore) ListUsers(ctx context.Context) ([]schemas.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]schemas.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].GitEmail < users[j].GitEmail })
	return users, nil
}

// PutUser adds or replaces a registry entry. Test and one-shot helper; the
// PostgreSQL registry is managed out of band.
func (m *MemoryStore) PutUser(user schemas.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.GitEmail] = user
}

// CountOpenAssignments returns a developer's open assignment count.
func (m *MemoryStore) CountOpenAssignments(ctx context.Context, developerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, list := range m.decisions {
		for _, d := range list {
			if d.AssigneeID == developerID && d.Status == schemas.StatusAssigned {
				count++
			}
		}
	}
	return count, nil
}

// SaveTriageRecord archives one pipeline run.
func (m *MemoryStore) SaveTriageRecord(ctx context.Context, record *schemas.TriageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *record)
	return nil
}

// TriageRecords returns archived runs, oldest first. Test helper.
func (m *MemoryStore) TriageRecords() []schemas.TriageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schemas.TriageRecord, len(m.records))
	copy(out, m.records)
	return out
}

// GetConfigValue reads a runtime-tunable setting.
func (m *MemoryStore) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.configVals[key]
	return value, ok, nil
}

// SetConfigValue writes a runtime-tunable setting.
func (m *MemoryStore) SetConfigValue(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configVals[key] = value
	return nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// reindexLocked rebuilds the id index for one issue after its slice shifted.
func (m *MemoryStore) reindexLocked(issueID string) {
	for i := range m.decisions[issueID] {
		d := &m.decisions[issueID][i]
		m.byID[d.ID] = &decisionRef{issueID: issueID, index: i}
	}
}
