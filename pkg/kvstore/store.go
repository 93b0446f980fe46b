package kvstore

import (
	"context"
	"time"
)

// Store is the key/value contract consumed by the cache and rate limiter.
// Implementations must never propagate backend failures: a failed read is
// a miss, a failed write reports false, and Available reflects whether the
// backend reached at construction time is still usable.
type Store interface {
	// Get returns the value for key, or ("", false) on miss or backend error.
	Get(ctx context.Context, key string) (string, bool)

	// Set stores value under key with an optional TTL (0 means no expiry).
	// Returns false when the backend is unavailable or the write failed.
	Set(ctx context.Context, key, value string, ttl time.Duration) bool

	// Delete removes key. Returns false when the backend is unavailable.
	Delete(ctx context.Context, key string) bool

	// Incr atomically increments the integer value at key, returning the
	// new value, or (0, false) on error.
	Incr(ctx context.Context, key string) (int64, bool)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) bool

	// TTL returns the remaining lifetime of key, or (0, false) when the key
	// has no expiry, does not exist, or the backend errored.
	TTL(ctx context.Context, key string) (time.Duration, bool)

	// Available reports whether the backend is usable. Dependents consult
	// this once at construction to decide whether to degrade.
	Available() bool
}
