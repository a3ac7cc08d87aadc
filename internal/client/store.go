package client

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get/TTL when the key is absent. Callers
// distinguish a miss from a store fault with errors.Is.
var ErrKeyNotFound = errors.New("key not found")

// Store is the key-value store contract everything above the adapter is
// written against. *RedisClient is the production implementation; tests
// inject in-memory fakes.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IncrWithTTL atomically increments key by amount, setting ttl only
	// when the increment created the key. Single round trip; this is the
	// primitive invariant-bearing counters depend on.
	IncrWithTTL(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)

	// ScanAll walks the keyspace with SCAN and returns every key matching
	// the glob pattern.
	ScanAll(ctx context.Context, pattern string) ([]string, error)

	Publish(ctx context.Context, channel string, payload string) error

	// Subscribe invokes handler for every message on channel until ctx is
	// cancelled. Delivery is at-most-once and unordered across subscribers.
	Subscribe(ctx context.Context, channel string, handler func(channel, payload string)) error
}
