// internal/service/factory_test.go
package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
	"github.com/xkilldash9x/mahoraga/internal/expertise"
	"github.com/xkilldash9x/mahoraga/internal/githistory"
	"github.com/xkilldash9x/mahoraga/internal/githost"
	"github.com/xkilldash9x/mahoraga/internal/notify"
	"github.com/xkilldash9x/mahoraga/internal/store"
)

// newTestRepo initializes a throwaway git repository with one commit so the
// history provider has something to open.
func newTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("x = 1\n"), 0o644))
	_, err = wt.Add("app.py")
	require.NoError(t, err)
	sig := &object.Signature{Name: "Alice Doe", Email: "alice@acme.dev", When: time.Now()}
	_, err = wt.Commit("initial", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)
	return dir
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.SetRepoPath(newTestRepo(t))
	return cfg
}

func TestBuild_BareConfigSelectsFallbacks(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)

	components, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer components.Shutdown()

	// No database URL, no GitHub credentials, no Slack, no API key: everything
	// falls back to the local implementations.
	assert.IsType(t, &store.MemoryStore{}, components.Store)
	assert.Nil(t, components.DBPool)
	assert.IsType(t, &githost.NoopHost{}, components.Host)
	assert.IsType(t, &notify.LogNotifier{}, components.Notifier)
	assert.IsType(t, unconfiguredLLM{}, components.LLM)

	require.NotNil(t, components.Pipeline)
	require.NotNil(t, components.Engine)
	require.NotNil(t, components.Registry)
	require.NotNil(t, components.Webhook)
}

func TestBuild_FailsWithoutRepository(t *testing.T) {
	t.Parallel()
	cfg := config.NewDefaultConfig()
	cfg.SetRepoPath(t.TempDir()) // not a git repository

	_, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expertise scoring")
}

func TestResolveTriagePolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	base := config.TriageConfig{ConfidenceThreshold: 60, TieEpsilon: 5, AnalysisWeight: 0.7}

	t.Run("no override keeps configured value", func(t *testing.T) {
		st := store.NewMemoryStore(logger)
		got := resolveTriagePolicy(ctx, st, base, logger)
		assert.Equal(t, 60.0, got.ConfidenceThreshold)
	})

	t.Run("stored value wins", func(t *testing.T) {
		st := store.NewMemoryStore(logger)
		require.NoError(t, st.SetConfigValue(ctx, schemas.ConfigKeyConfidenceThreshold, "72.5"))
		got := resolveTriagePolicy(ctx, st, base, logger)
		assert.Equal(t, 72.5, got.ConfidenceThreshold)
		assert.Equal(t, 5.0, got.TieEpsilon, "other knobs untouched")
	})

	t.Run("malformed and out-of-range values are ignored", func(t *testing.T) {
		for _, bad := range []string{"garbage", "-1", "150"} {
			st := store.NewMemoryStore(logger)
			require.NoError(t, st.SetConfigValue(ctx, schemas.ConfigKeyConfidenceThreshold, bad))
			got := resolveTriagePolicy(ctx, st, base, logger)
			assert.Equal(t, 60.0, got.ConfidenceThreshold, bad)
		}
	})
}

// newTestLoader wires a loader over a real temp repository and the given
// store.
func newTestLoader(t *testing.T, st schemas.TriageStore) expertise.Loader {
	t.Helper()
	cfg := config.NewDefaultConfig()
	logger := zaptest.NewLogger(t)
	history, err := githistory.NewProvider(newTestRepo(t), cfg.Expertise(), logger)
	require.NoError(t, err)
	return newExpertiseLoader(st, history, expertise.NewScorer(cfg.Expertise()), cfg.Expertise(), logger)
}

func TestExpertiseLoader_PrefersFreshPersistedScores(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := store.NewMemoryStore(zaptest.NewLogger(t))
	persisted := []schemas.ExpertiseScore{{DeveloperID: "dana@acme.dev", Score: 42}}
	require.NoError(t, st.UpsertExpertise(ctx, "app.py", persisted, time.Now().UTC()))

	loader := newTestLoader(t, st)

	scores, err := loader(ctx, "app.py")
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, "dana@acme.dev", scores[0].DeveloperID, "fresh persisted ranking served as-is")
}

func TestExpertiseLoader_RecomputesAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := store.NewMemoryStore(zaptest.NewLogger(t))
	loader := newTestLoader(t, st)

	scores, err := loader(ctx, "app.py")
	require.NoError(t, err)
	require.NotEmpty(t, scores)
	assert.Equal(t, "alice@acme.dev", scores[0].DeveloperID)

	// The recomputed ranking lands in the store for the next cold start.
	stored, computedAt, err := st.GetExpertise(ctx, "app.py")
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	assert.Equal(t, "alice@acme.dev", stored[0].DeveloperID)
	assert.False(t, computedAt.IsZero())
}

func TestUnconfiguredLLM(t *testing.T) {
	t.Parallel()
	_, err := unconfiguredLLM{}.Generate(context.Background(), schemas.GenerationRequest{})
	require.ErrorIs(t, err, schemas.ErrExternalDependency)
	assert.NoError(t, unconfiguredLLM{}.Close())
}
