// Package cache is a best-effort Redis key-value layer. Every read degrades
// to a miss and every write to a no-op when Redis is unreachable — the
// pipeline must keep working (slower) with the cache offline.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a shared Redis client. A nil receiver or nil client is a
// fully disabled cache; all operations become no-ops.
type Cache struct {
	rdb *redis.Client
}

// New wraps an existing Redis client. Pass nil to run with caching disabled.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Enabled reports whether a Redis client is attached.
func (c *Cache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// Ping reports cache connectivity; used by the detailed health endpoint.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return redis.ErrClosed
	}
	return c.rdb.Ping(ctx).Err()
}

// GetJSON loads key into dest. Returns false on miss, unmarshal failure, or
// any Redis error — callers treat every false identically.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("cache get failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		slog.Warn("cache entry corrupt, dropping", "key", key, "error", err)
		c.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON stores v under key with a TTL. Failures are logged and swallowed.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		slog.Debug("cache set failed", "key", key, "error", err)
	}
}

// Delete removes keys, best-effort.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil || c.rdb == nil || len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Debug("cache delete failed", "keys", keys, "error", err)
	}
}

// DeletePattern removes every key matching a glob pattern using SCAN so a
// large keyspace is never blocked the way KEYS would.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	if c == nil || c.rdb == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			c.Delete(ctx, batch...)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		slog.Debug("cache scan failed", "pattern", pattern, "error", err)
	}
	c.Delete(ctx, batch...)
}

// GetOrSet returns the cached value for key, or calls fn, stores its result
// fire-and-forget, and returns it. fn errors pass straight through.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var out T
	if c.GetJSON(ctx, key, &out) {
		return out, nil
	}
	out, err := fn(ctx)
	if err != nil {
		return out, err
	}
	c.SetJSON(ctx, key, out, ttl)
	return out, nil
}
