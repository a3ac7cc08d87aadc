// Package cache is the namespaced read/write/invalidate layer over the
// key-value store. It is advisory: adapter failures are logged and reported
// as misses or failed writes, never propagated, because no correctness
// depends on cached data.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"license-service/internal/client"
	"license-service/internal/util"
)

const apiNamespace = "cache:api:"

type Cache struct {
	store      client.Store
	defaultTTL time.Duration
}

func New(store client.Store, defaultTTL time.Duration) *Cache {
	return &Cache{store: store, defaultTTL: defaultTTL}
}

// Key prefixes a raw cache key with the api namespace.
func Key(suffix string) string {
	return apiNamespace + suffix
}

// Get reads key into dest, returning false on a miss or any store fault.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, client.ErrKeyNotFound) {
			util.Warn("cache read failed, treating as miss",
				zap.String("key", key),
				zap.Error(err))
		}
		return false
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		util.Warn("cache entry is not valid JSON, treating as miss",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return true
}

// Set serializes value and stores it with the given TTL (the configured
// default when ttl is zero). Returns false when the write did not happen.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	raw, err := json.Marshal(value)
	if err != nil {
		util.Warn("cache value not serializable",
			zap.String("key", key),
			zap.Error(err))
		return false
	}

	if err := c.store.Set(ctx, key, string(raw), ttl); err != nil {
		util.Warn("cache write failed",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return false
	}
	return true
}

// Delete removes the given keys and returns how many existed.
func (c *Cache) Delete(ctx context.Context, keys ...string) int64 {
	if len(keys) == 0 {
		return 0
	}
	removed, err := c.store.Del(ctx, keys...)
	if err != nil {
		util.Warn("cache delete failed",
			zap.Int("key_count", len(keys)),
			zap.Error(err))
		return 0
	}
	return removed
}

// TTL returns the seconds remaining for key, -1 when it has no expiry, and
// false when the key is absent or the store failed.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, bool) {
	ttl, err := c.store.TTL(ctx, key)
	if err != nil {
		if !errors.Is(err, client.ErrKeyNotFound) {
			util.Warn("cache ttl lookup failed",
				zap.String("key", key),
				zap.Error(err))
		}
		return 0, false
	}
	return ttl, true
}

func (c *Cache) Exists(ctx context.Context, key string) bool {
	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		util.Warn("cache exists check failed",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return exists
}
