// internal/expertise/cache_test.go
package expertise

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testClock is a race-safe manual clock shared with refresh goroutines.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func rankingFor(dev string) []schemas.ExpertiseScore {
	return []schemas.ExpertiseScore{{DeveloperID: dev, FilePath: "app/models.py", Score: 42}}
}

func TestCache_MissSharesInflightCompute(t *testing.T) {
	var calls atomic.Int32
	loader := func(ctx context.Context, filePath string) ([]schemas.ExpertiseScore, error) {
		calls.Add(1)
		time.Sleep(25 * time.Millisecond)
		return rankingFor("alice@acme.dev"), nil
	}
	cache := NewCache(time.Hour, loader, zaptest.NewLogger(t))

	const callers = 8
	results := make([]Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Get(context.Background(), "app/models.py")
		}(i)
	}
	wg.Wait()

	// Callers either joined the flight or hit the freshly stored entry;
	// the loader must have run exactly once either way.
	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, results[i].Stale)
		require.Len(t, results[i].Scores, 1)
		assert.Equal(t, "alice@acme.dev", results[i].Scores[0].DeveloperID)
	}
}

func TestCache_FreshHitSkipsLoader(t *testing.T) {
	var calls atomic.Int32
	loader := func(ctx context.Context, filePath string) ([]schemas.ExpertiseScore, error) {
		calls.Add(1)
		return rankingFor("alice@acme.dev"), nil
	}
	cache := NewCache(time.Hour, loader, zaptest.NewLogger(t))

	first, err := cache.Get(context.Background(), "app/models.py")
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), "app/models.py")
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.ComputedAt, second.ComputedAt)
	assert.False(t, second.Stale)
}

func TestCache_StaleServedWhileRefreshing(t *testing.T) {
	clock := newTestClock()
	var calls atomic.Int32
	loader := func(ctx context.Context, filePath string) ([]schemas.ExpertiseScore, error) {
		if calls.Add(1) == 1 {
			return rankingFor("gen-1"), nil
		}
		return rankingFor("gen-2"), nil
	}

	core, logs := observer.New(zapcore.WarnLevel)
	cache := NewCache(time.Hour, loader, zap.New(core))
	cache.now = clock.Now

	_, err := cache.Get(context.Background(), "app/models.py")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	// The expired entry is handed back immediately; the recompute happens
	// behind the caller's back.
	stale, err := cache.Get(context.Background(), "app/models.py")
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.Equal(t, "gen-1", stale.Scores[0].DeveloperID)
	assert.GreaterOrEqual(t, logs.FilterMessageSnippet("serving stale").Len(), 1)

	require.Eventually(t, func() bool {
		res, err := cache.Get(context.Background(), "app/models.py")
		return err == nil && !res.Stale && res.Scores[0].DeveloperID == "gen-2"
	}, 2*time.Second, 10*time.Millisecond, "background refresh should replace the entry")
}

func TestCache_SingleRefresherPerKey(t *testing.T) {
	clock := newTestClock()
	gate := make(chan struct{})
	var calls atomic.Int32
	loader := func(ctx context.Context, filePath string) ([]schemas.ExpertiseScore, error) {
		if calls.Add(1) >= 2 {
			<-gate
			return rankingFor("gen-2"), nil
		}
		return rankingFor("gen-1"), nil
	}
	cache := NewCache(time.Hour, loader, zaptest.NewLogger(t))
	cache.now = clock.Now

	_, err := cache.Get(context.Background(), "app/models.py")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	// A burst of stale reads must elect exactly one refresher.
	const readers = 6
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := cache.Get(context.Background(), "app/models.py")
			assert.NoError(t, err)
			assert.True(t, res.Stale)
			assert.Equal(t, "gen-1", res.Scores[0].DeveloperID)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	// Still stale and still only one refresher while it is blocked.
	res, err := cache.Get(context.Background(), "app/models.py")
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, int32(2), calls.Load())

	close(gate)
	require.Eventually(t, func() bool {
		res, err := cache.Get(context.Background(), "app/models.py")
		return err == nil && !res.Stale && res.Scores[0].DeveloperID == "gen-2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCache_MissErrorIsNotCached(t *testing.T) {
	var calls atomic.Int32
	loader := func(ctx context.Context, filePath string) ([]schemas.ExpertiseScore, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("repository unavailable")
		}
		return rankingFor("alice@acme.dev"), nil
	}
	cache := NewCache(time.Hour, loader, zaptest.NewLogger(t))

	_, err := cache.Get(context.Background(), "app/models.py")
	require.Error(t, err)

	res, err := cache.Get(context.Background(), "app/models.py")
	require.NoError(t, err, "a failed load must not poison the key")
	assert.Equal(t, "alice@acme.dev", res.Scores[0].DeveloperID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_RefreshFailureKeepsStaleEntry(t *testing.T) {
	clock := newTestClock()
	var calls atomic.Int32
	loader := func(ctx context.Context, filePath string) ([]schemas.ExpertiseScore, error) {
		switch calls.Add(1) {
		case 1:
			return rankingFor("gen-1"), nil
		case 2:
			return nil, errors.New("transient git failure")
		default:
			return rankingFor("gen-final"), nil
		}
	}

	core, logs := observer.New(zapcore.WarnLevel)
	cache := NewCache(time.Hour, loader, zap.New(core))
	cache.now = clock.Now

	_, err := cache.Get(context.Background(), "app/models.py")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	// First stale read triggers the refresh that fails; the old ranking
	// survives and a later read elects a new refresher that succeeds.
	res, err := cache.Get(context.Background(), "app/models.py")
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, "gen-1", res.Scores[0].DeveloperID)

	require.Eventually(t, func() bool {
		res, err := cache.Get(context.Background(), "app/models.py")
		return err == nil && !res.Stale && res.Scores[0].DeveloperID == "gen-final"
	}, 2*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, logs.FilterMessageSnippet("refresh failed").Len(), 1)
	assert.Equal(t, int32(3), calls.Load())
}
