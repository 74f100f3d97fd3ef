package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default cache timings.
const (
	DefaultCacheTTL    = time.Hour
	DefaultLoadTimeout = 2 * time.Second
)

// LoadFunc fetches an entry on a cache miss.
type LoadFunc func(ctx context.Context) (Entry, error)

// Cache is a read-through cache over a Store. Concurrent misses for the same
// key share one load. A load runs detached from the caller that started it,
// so a cancelled caller neither aborts the load nor caches a failure for
// the others.
type Cache struct {
	store       Store
	ttl         time.Duration
	loadTimeout time.Duration
	group       singleflight.Group
	metrics     *Metrics
	logger      *slog.Logger
}

// NewCache creates a Cache. Zero ttl and loadTimeout use the defaults.
func NewCache(store Store, ttl, loadTimeout time.Duration, metrics *Metrics, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:       store,
		ttl:         ttl,
		loadTimeout: loadTimeout,
		metrics:     metrics,
		logger:      logger,
	}
}

// Get returns the cached entry for key, calling load on a miss. Load errors
// are returned to every waiting caller and are not cached.
func (c *Cache) Get(ctx context.Context, key string, load LoadFunc) (Entry, error) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.metrics.incStoreError()
		c.logger.WarnContext(ctx, "enrichment cache read failed", "key", key, "error", err)
	}
	if ok {
		c.metrics.incCache(ResultHit)
		return entry, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		entry, err := load(lctx)
		if err != nil {
			return Entry{}, err
		}
		if err := c.store.Set(lctx, key, entry, c.ttl); err != nil {
			c.metrics.incStoreError()
			c.logger.WarnContext(lctx, "enrichment cache write failed", "key", key, "error", err)
		}
		return entry, nil
	})

	select {
	case <-ctx.Done():
		return Entry{}, fmt.Errorf("waiting for %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Shared {
			c.metrics.incCache(ResultShared)
		} else {
			c.metrics.incCache(ResultMiss)
		}
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	}
}
