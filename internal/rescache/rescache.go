// Package rescache implements the per-IR response cache: a TTL cache
// with single-flight semantics keyed by an IR node's structural
// fingerprint plus its rendered request and relevant context. The
// in-memory implementation uses jellydator/ttlcache for bounded,
// LRU-evicting storage; golang.org/x/sync/singleflight collapses
// concurrent misses on the same key into one producer.
package rescache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

const defaultCapacity = 100_000

// Cache is the abstract capability the evaluator's Cache IR node
// delegates to. It satisfies runtime.Cache.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	// GetOrEval returns the cached value for key if present and
	// unexpired; otherwise it invokes f exactly once even under
	// concurrent callers (single-flight) and caches the result for ttl.
	GetOrEval(ctx context.Context, key string, ttl time.Duration, f func() (any, error)) (any, error)
}

// MemoryCache is the default in-process implementation: a fixed-capacity
// TTL cache with LRU eviction under capacity pressure, and a
// singleflight group collapsing concurrent misses.
type MemoryCache struct {
	store  *ttlcache.Cache[string, any]
	flight singleflight.Group
}

// NewMemoryCache builds a MemoryCache with the given capacity; capacity
// <= 0 selects the default of 100,000 entries.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	store := ttlcache.New[string, any](
		ttlcache.WithCapacity[string, any](uint64(capacity)),
	)
	go store.Start()
	return &MemoryCache{store: store}
}

// Close stops the cache's background expiration loop.
func (c *MemoryCache) Close() { c.store.Stop() }

func (c *MemoryCache) Get(_ context.Context, key string) (any, bool) {
	item := c.store.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	c.store.Set(key, value, ttl)
}

// GetOrEval implements the Pending(broadcast) protocol described for the
// response cache: a cache miss registers this call as the producer via
// singleflight.Group.Do, every other concurrent caller for the same key
// awaits that single evaluation, and on success the entry becomes
// Ready(value) for ttl. Evaluation failure is broadcast to every
// waiter and nothing is cached, so a subsequent call retries.
func (c *MemoryCache) GetOrEval(ctx context.Context, key string, ttl time.Duration, f func() (any, error)) (any, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		if v, ok := c.Get(ctx, key); ok {
			return v, nil
		}
		v, err := f()
		if err != nil {
			return nil, err
		}
		// A result that completes after the producer's context ended is
		// discarded rather than cached.
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		c.Set(ctx, key, v, ttl)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// HitRate returns the cache's observed hit ratio, an optional capability
// the abstract Cache interface exposes for diagnostics/metrics.
func (c *MemoryCache) HitRate() float64 {
	m := c.store.Metrics()
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}
