// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// Shared testify mocks for the schemas interfaces. Behavior-free: each method
// delegates to mock.Called so tests script expectations per case.

var (
	_ schemas.LLMClient       = (*MockLLMClient)(nil)
	_ schemas.HistoryProvider = (*MockHistoryProvider)(nil)
	_ schemas.TriageStore     = (*MockTriageStore)(nil)
	_ schemas.Notifier        = (*MockNotifier)(nil)
	_ schemas.CodeHost        = (*MockCodeHost)(nil)
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close provides a mock function for releasing provider resources.
func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- History Provider Mock --

// MockHistoryProvider mocks the schemas.HistoryProvider interface.
type MockHistoryProvider struct {
	mock.Mock
}

// FileHistory provides a mock function for commit history lookups.
func (m *MockHistoryProvider) FileHistory(ctx context.Context, filePath string) (*schemas.FileHistory, error) {
	args := m.Called(ctx, filePath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.FileHistory), args.Error(1)
}

// FileAtHead provides a mock function for worktree content reads.
func (m *MockHistoryProvider) FileAtHead(ctx context.Context, filePath string) (string, error) {
	args := m.Called(ctx, filePath)
	return args.String(0), args.Error(1)
}

// -- Triage Store Mock --

// MockTriageStore mocks the schemas.TriageStore interface.
type MockTriageStore struct {
	mock.Mock
}

// SaveDecision provides a mock function for the conditional decision insert.
func (m *MockTriageStore) SaveDecision(ctx context.Context, decision *schemas.AssignmentDecision) (*schemas.AssignmentDecision, bool, error) {
	args := m.Called(ctx, decision)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*schemas.AssignmentDecision), args.Bool(1), args.Error(2)
}

// FindDecisionsByIssue provides a mock function for decision history reads.
func (m *MockTriageStore) FindDecisionsByIssue(ctx context.Context, issueID string) ([]schemas.AssignmentDecision, error) {
	args := m.Called(ctx, issueID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.AssignmentDecision), args.Error(1)
}

// UpdateDecisionStatus provides a mock function for lifecycle transitions.
func (m *MockTriageStore) UpdateDecisionStatus(ctx context.Context, decisionID string, status schemas.DecisionStatus) error {
	args := m.Called(ctx, decisionID, status)
	return args.Error(0)
}

// GetExpertise provides a mock function for cached score reads.
func (m *MockTriageStore) GetExpertise(ctx context.Context, filePath string) ([]schemas.ExpertiseScore, time.Time, error) {
	args := m.Called(ctx, filePath)
	if args.Get(0) == nil {
		return nil, args.Get(1).(time.Time), args.Error(2)
	}
	return args.Get(0).([]schemas.ExpertiseScore), args.Get(1).(time.Time), args.Error(2)
}

// UpsertExpertise provides a mock function for cached score writes.
func (m *MockTriageStore) UpsertExpertise(ctx context.Context, filePath string, scores []schemas.ExpertiseScore, computedAt time.Time) error {
	args := m.Called(ctx, filePath, scores, computedAt)
	return args.Error(0)
}

// ListUsers provides a mock function for the developer registry.
func (m *MockTriageStore) ListUsers(ctx context.Context) ([]schemas.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.User), args.Error(1)
}

// CountOpenAssignments provides a mock function for the workload tie-break.
func (m *MockTriageStore) CountOpenAssignments(ctx context.Context, developerID string) (int, error) {
	args := m.Called(ctx, developerID)
	return args.Int(0), args.Error(1)
}

// SaveTriageRecord provides a mock function for audit persistence.
func (m *MockTriageStore) SaveTriageRecord(ctx context.Context, record *schemas.TriageRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// GetConfigValue provides a mock function for runtime setting reads.
func (m *MockTriageStore) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

// SetConfigValue provides a mock function for runtime setting writes.
func (m *MockTriageStore) SetConfigValue(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

// Ping provides a mock function for connectivity checks.
func (m *MockTriageStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- Notifier Mock --

// MockNotifier mocks the schemas.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

// Notify provides a mock function for normal-channel announcements.
func (m *MockNotifier) Notify(ctx context.Context, result *schemas.TriageResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

// Escalate provides a mock function for escalation-channel announcements.
func (m *MockNotifier) Escalate(ctx context.Context, result *schemas.TriageResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

// -- Code Host Mock --

// MockCodeHost mocks the schemas.CodeHost interface.
type MockCodeHost struct {
	mock.Mock
}

// ApplyDecision provides a mock function for tracker side effects.
func (m *MockCodeHost) ApplyDecision(ctx context.Context, result *schemas.TriageResult) (string, error) {
	args := m.Called(ctx, result)
	return args.String(0), args.Error(1)
}
