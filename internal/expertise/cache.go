// internal/expertise/cache.go
package expertise

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// refreshTimeout bounds a background recompute so a wedged loader cannot pin
// a refresher goroutine forever.
const refreshTimeout = time.Minute

// Loader recomputes the ranked expertise for one file from scratch.
type Loader func(ctx context.Context, filePath string) ([]schemas.ExpertiseScore, error)

// Result is a cache read. Stale means the entry outlived its TTL and a
// background refresh has been kicked off; callers get the old ranking
// immediately rather than waiting on git.
type Result struct {
	Scores     []schemas.ExpertiseScore
	Stale      bool
	ComputedAt time.Time
}

type cacheEntry struct {
	scores     []schemas.ExpertiseScore
	computedAt time.Time
}

// Cache memoizes per-file expertise rankings. Misses compute once per key
// with concurrent callers sharing the in-flight result; expired entries are
// served stale while at most one background refresh per key runs.
type Cache struct {
	ttl    time.Duration
	loader Loader
	logger *zap.Logger
	now    func() time.Time

	group singleflight.Group

	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	refreshing map[string]struct{}
}

func NewCache(ttl time.Duration, loader Loader, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		ttl:        ttl,
		loader:     loader,
		logger:     logger.Named("expertise-cache"),
		now:        time.Now,
		entries:    make(map[string]*cacheEntry),
		refreshing: make(map[string]struct{}),
	}
}

// Get returns the cached ranking for filePath, computing it on a miss.
// Failed loads are never cached.
func (c *Cache) Get(ctx context.Context, filePath string) (Result, error) {
	c.mu.RLock()
	entry, ok := c.entries[filePath]
	c.mu.RUnlock()

	if ok {
		age := c.now().Sub(entry.computedAt)
		if age <= c.ttl {
			return Result{Scores: entry.scores, ComputedAt: entry.computedAt}, nil
		}
		c.logger.Warn("serving stale expertise ranking",
			zap.String("file_path", filePath),
			zap.Duration("age", age),
			zap.Duration("ttl", c.ttl))
		c.refreshAsync(filePath)
		return Result{Scores: entry.scores, Stale: true, ComputedAt: entry.computedAt}, nil
	}

	v, err, _ := c.group.Do(filePath, func() (any, error) {
		scores, err := c.loader(ctx, filePath)
		if err != nil {
			return nil, err
		}
		fresh := &cacheEntry{scores: scores, computedAt: c.now()}
		c.mu.Lock()
		c.entries[filePath] = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return Result{}, err
	}
	entry = v.(*cacheEntry)
	return Result{Scores: entry.scores, ComputedAt: entry.computedAt}, nil
}

// refreshAsync starts a background recompute unless one is already running
// for this key. The old entry stays in place until the recompute succeeds.
func (c *Cache) refreshAsync(filePath string) {
	c.mu.Lock()
	if _, busy := c.refreshing[filePath]; busy {
		c.mu.Unlock()
		return
	}
	c.refreshing[filePath] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, filePath)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		scores, err := c.loader(ctx, filePath)
		if err != nil {
			c.logger.Warn("background expertise refresh failed; keeping stale entry",
				zap.String("file_path", filePath),
				zap.Error(err))
			return
		}
		c.mu.Lock()
		c.entries[filePath] = &cacheEntry{scores: scores, computedAt: c.now()}
		c.mu.Unlock()
	}()
}
