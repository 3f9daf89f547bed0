// internal/store/memory_test.go
package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

func memDecision(id, issueID, assignee string) *schemas.AssignmentDecision {
	now := time.Now().UTC()
	return &schemas.AssignmentDecision{
		ID:         id,
		IssueID:    issueID,
		AssigneeID: assignee,
		Confidence: 90,
		Status:     schemas.StatusAssigned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMemoryStore_SaveDecisionConditionalInsert(t *testing.T) {
	t.Parallel()
	m := NewMemoryStore(zaptest.NewLogger(t))
	ctx := context.Background()

	first, created, err := m.SaveDecision(ctx, memDecision("id-1", "acme/app#7", "d1@acme.dev"))
	require.NoError(t, err)
	assert.True(t, created)

	// A second open decision for the same issue is rejected in favor of the
	// first, whatever its assignee.
	second, created, err := m.SaveDecision(ctx, memDecision("id-2", "acme/app#7", "d2@acme.dev"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// Once the open decision is terminal, a new one can land.
	require.NoError(t, m.UpdateDecisionStatus(ctx, "id-1", schemas.StatusReassigned))
	third, created, err := m.SaveDecision(ctx, memDecision("id-3", "acme/app#7", "d2@acme.dev"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "id-3", third.ID)

	decisions, err := m.FindDecisionsByIssue(ctx, "acme/app#7")
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "id-3", decisions[0].ID, "newest first")
}

func TestMemoryStore_ConcurrentSaveYieldsOneOpenDecision(t *testing.T) {
	t.Parallel()
	m := NewMemoryStore(zaptest.NewLogger(t))
	ctx := context.Background()

	const writers = 16
	createdCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := m.SaveDecision(ctx, memDecision(
				fmt.Sprintf("id-%d", i), "acme/app#9", fmt.Sprintf("dev-%d@acme.dev", i)))
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount, "exactly one concurrent writer may insert")
	decisions, err := m.FindDecisionsByIssue(ctx, "acme/app#9")
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

func TestMemoryStore_CountOpenAssignments(t *testing.T) {
	t.Parallel()
	m := NewMemoryStore(zaptest.NewLogger(t))
	ctx := context.Background()

	_, _, err := m.SaveDecision(ctx, memDecision("id-1", "acme/app#1", "d1@acme.dev"))
	require.NoError(t, err)
	_, _, err = m.SaveDecision(ctx, memDecision("id-2", "acme/app#2", "d1@acme.dev"))
	require.NoError(t, err)
	_, _, err = m.SaveDecision(ctx, memDecision("id-3", "acme/app#3", "d2@acme.dev"))
	require.NoError(t, err)
	require.NoError(t, m.UpdateDecisionStatus(ctx, "id-2", schemas.StatusCompleted))

	count, err := m.CountOpenAssignments(ctx, "d1@acme.dev")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStore_ExpertiseRoundTrip(t *testing.T) {
	t.Parallel()
	m := NewMemoryStore(zaptest.NewLogger(t))
	ctx := context.Background()

	scores, computedAt, err := m.GetExpertise(ctx, "app/config.py")
	require.NoError(t, err)
	assert.Nil(t, scores)
	assert.True(t, computedAt.IsZero())

	stamp := time.Now().UTC()
	in := []schemas.ExpertiseScore{{DeveloperID: "d1@acme.dev", FilePath: "app/config.py", Score: 42, IsActive: true}}
	require.NoError(t, m.UpsertExpertise(ctx, "app/config.py", in, stamp))

	scores, computedAt, err = m.GetExpertise(ctx, "app/config.py")
	require.NoError(t, err)
	assert.Equal(t, in, scores)
	assert.Equal(t, stamp, computedAt)
}

func TestMemoryStore_UsersAndConfig(t *testing.T) {
	t.Parallel()
	m := NewMemoryStore(zaptest.NewLogger(t))
	ctx := context.Background()

	m.PutUser(schemas.User{GitEmail: "zed@acme.dev", IsActive: true})
	m.PutUser(schemas.User{GitEmail: "ann@acme.dev", IsActive: false})

	users, err := m.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "ann@acme.dev", users[0].GitEmail, "sorted by email")

	_, ok, err := m.GetConfigValue(ctx, schemas.ConfigKeyConfidenceThreshold)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, m.SetConfigValue(ctx, schemas.ConfigKeyConfidenceThreshold, "70"))
	value, ok, err := m.GetConfigValue(ctx, schemas.ConfigKeyConfidenceThreshold)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "70", value)
}
