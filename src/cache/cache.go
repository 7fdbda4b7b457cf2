// Package cache provides small TTL key/value stores used for idempotency
// de-duplication and short-lived memoization. Stores are injected: nothing
// in the engine depends on a package-level instance, and correctness never
// depends on a store surviving a restart.
package cache

import (
	"context"
	"time"
)

// TTLStore is a bounded key/value store with per-entry expiry.
type TTLStore interface {
	// Get returns the value for key and whether it was present and unexpired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key for ttl. A zero ttl falls back to the
	// store's default.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key if present.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config selects and sizes a TTLStore backend.
type Config struct {
	// Backend is "memory" or "redis".
	Backend string
	// DefaultTTL applies when Set is called with a zero ttl.
	DefaultTTL time.Duration
	// MaxEntries bounds the memory backend; oldest entries are evicted
	// when full. Ignored by redis.
	MaxEntries int
	// KeyPrefix namespaces keys on shared backends.
	KeyPrefix string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
