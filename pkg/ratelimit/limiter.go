// Package ratelimit implements a token-bucket rate limiter backed by the
// shared key/value store, keyed by (identifier, endpoint).
package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/minervahq/minerva/pkg/kvstore"
	"github.com/rs/zerolog"
)

// bucketTTL bounds storage for idle buckets; it is independent of the rate
// window.
const bucketTTL = 300 * time.Second

// Preset is a named rate-limit configuration.
type Preset struct {
	RequestsPerMinute int
	Burst             int
}

// Predefined limits matching the service's endpoint classes.
var (
	Normal    = Preset{RequestsPerMinute: 10, Burst: 5}
	Streaming = Preset{RequestsPerMinute: 5, Burst: 2}
	Generous  = Preset{RequestsPerMinute: 30, Burst: 10}
)

// Info describes the outcome of a rate-limit check.
type Info struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	ResetIn   int  `json:"reset_in"` // seconds until at least one token is available
	Limit     int  `json:"limit"`
}

// bucketState is the JSON value persisted per bucket.
type bucketState struct {
	Tokens     float64 `json:"tokens"`
	LastRefill float64 `json:"last_refill"` // unix seconds
}

// TokenBucketLimiter enforces a soft per-identifier rate limit. The
// check is a read-modify-write without a transaction, so two concurrent
// checks under the same key can both observe the pre-consumption token
// count and over-admit slightly; see the package tests for the documented
// trade-off. On any store error the limiter allows the request.
type TokenBucketLimiter struct {
	store      kvstore.Store
	rpm        int
	burst      int
	capacity   float64
	refillRate float64 // tokens per second
	enabled    bool
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a limiter with the given preset.
func New(store kvstore.Store, preset Preset, logger zerolog.Logger) *TokenBucketLimiter {
	l := &TokenBucketLimiter{
		store:      store,
		rpm:        preset.RequestsPerMinute,
		burst:      preset.Burst,
		capacity:   float64(preset.RequestsPerMinute + preset.Burst),
		refillRate: float64(preset.RequestsPerMinute) / 60.0,
		enabled:    store != nil && store.Available(),
		logger:     logger,
		now:        time.Now,
	}

	if !l.enabled {
		logger.Warn().Msg("Rate limiter initialized without a backing store, all requests allowed")
	}
	return l
}

func (l *TokenBucketLimiter) key(identifier, endpoint string) string {
	return "ratelimit:" + endpoint + ":" + identifier
}

// allow is the degraded-mode decision used when the store is unreachable.
func (l *TokenBucketLimiter) allow() Info {
	return Info{Allowed: true, Remaining: int(l.capacity), ResetIn: 0, Limit: l.rpm}
}

// Check consumes one token for (identifier, endpoint) if available. The
// updated bucket is written back regardless of the decision so denied
// requests still advance the refill clock.
func (l *TokenBucketLimiter) Check(ctx context.Context, identifier, endpoint string) (bool, Info) {
	if !l.enabled {
		return true, l.allow()
	}

	key := l.key(identifier, endpoint)
	currentTime := float64(l.now().UnixNano()) / float64(time.Second)

	var tokens, lastRefill float64
	if raw, ok := l.store.Get(ctx, key); ok {
		var state bucketState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			l.logger.Error().Err(err).Str("key", key).Msg("Corrupt bucket state, allowing request")
			return true, l.allow()
		}
		tokens = state.Tokens
		lastRefill = state.LastRefill
	} else {
		// Lazily created full bucket.
		tokens = l.capacity
		lastRefill = currentTime
	}

	// Refill for elapsed time, clamped to capacity.
	elapsed := currentTime - lastRefill
	tokens = math.Min(l.capacity, tokens+elapsed*l.refillRate)

	allowed := tokens >= 1
	if allowed {
		tokens--
	}

	resetIn := 0
	if tokens < 1 {
		resetIn = int((1-tokens)/l.refillRate) + 1
	}

	data, err := json.Marshal(bucketState{Tokens: tokens, LastRefill: currentTime})
	if err == nil {
		if !l.store.Set(ctx, key, string(data), bucketTTL) {
			l.logger.Debug().Str("key", key).Msg("Failed to persist bucket state")
		}
	}

	info := Info{
		Allowed:   allowed,
		Remaining: int(tokens),
		ResetIn:   resetIn,
		Limit:     l.rpm,
	}

	if !allowed {
		l.logger.Warn().
			Str("identifier", identifier).
			Str("endpoint", endpoint).
			Int("reset_in", resetIn).
			Msg("Rate limit exceeded")
	}

	return allowed, info
}

// Reset clears the bucket for (identifier, endpoint), restoring full
// capacity on the next check.
func (l *TokenBucketLimiter) Reset(ctx context.Context, identifier, endpoint string) bool {
	if !l.enabled {
		return false
	}
	return l.store.Delete(ctx, l.key(identifier, endpoint))
}

// SetClock overrides the limiter's time source for tests.
func (l *TokenBucketLimiter) SetClock(now func() time.Time) {
	l.now = now
}
