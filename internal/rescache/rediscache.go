package rescache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RedisCache is the shared-cache alternative to MemoryCache, satisfying
// the same Cache interface so a multi-instance deployment can share
// response-cache entries across processes. Values are JSON-encoded on
// the wire; single-flight collapse still happens per-process, since
// Redis itself has no notion of "the caller currently computing this".
type RedisCache struct {
	client *redis.Client
	flight singleflight.Group
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (any, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	// Cache write failures degrade silently to evaluation: the value was
	// already computed, a store failure only costs the next reader a
	// recompute.
	_ = c.client.Set(ctx, key, raw, ttl).Err()
}

func (c *RedisCache) GetOrEval(ctx context.Context, key string, ttl time.Duration, f func() (any, error)) (any, error) {
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
		c.Set(ctx, key, v, ttl)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
