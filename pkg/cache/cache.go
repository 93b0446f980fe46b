// Package cache provides a Redis-backed response cache keyed by tool name
// and canonicalized arguments, used to short-circuit repeated tool calls.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/minervahq/minerva/pkg/kvstore"
	"github.com/rs/zerolog"
)

// DefaultTTL is how long tool results stay cached unless overridden.
const DefaultTTL = 300 * time.Second

const keyPrefix = "cache"

// hashLen is the number of hex characters kept from the digest (64 bits),
// enough to make accidental collisions negligible.
const hashLen = 16

// ResponseCache caches JSON-serializable tool results in a kvstore.Store.
// When the store is unavailable every operation degrades to a miss or
// no-op: the system stays functional, only slower.
type ResponseCache struct {
	store      kvstore.Store
	defaultTTL time.Duration
	enabled    bool
	logger     zerolog.Logger
}

// New creates a ResponseCache over the given store.
func New(store kvstore.Store, logger zerolog.Logger) *ResponseCache {
	c := &ResponseCache{
		store:      store,
		defaultTTL: DefaultTTL,
		enabled:    store != nil && store.Available(),
		logger:     logger,
	}

	if !c.enabled {
		logger.Warn().Msg("Response cache initialized without a backing store, caching disabled")
	}
	return c
}

// Key derives the deterministic cache key for a tool call. Arguments are
// sorted by key and serialized before hashing so that semantically
// identical calls collide regardless of map iteration order.
func Key(tool string, args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// [["key","value"],...] in sorted order; json.Marshal is deterministic
	// for slices, unlike for maps.
	pairs := make([][2]interface{}, 0, len(args))
	for _, k := range keys {
		pairs = append(pairs, [2]interface{}{k, args[k]})
	}

	data, err := json.Marshal(pairs)
	if err != nil {
		// Unmarshalable arguments cannot come from the model's JSON tool
		// calls; fall back to the tool name alone.
		data = []byte(tool)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])[:hashLen]

	return keyPrefix + ":" + tool + ":" + digest
}

// Get returns the cached result for (tool, args), or (nil, false) on miss.
func (c *ResponseCache) Get(ctx context.Context, tool string, args map[string]interface{}) (interface{}, bool) {
	if !c.enabled {
		return nil, false
	}

	key := Key(tool, args)
	raw, ok := c.store.Get(ctx, key)
	if !ok {
		c.logger.Debug().Str("tool", tool).Msg("Cache miss")
		return nil, false
	}

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to decode cached value")
		return nil, false
	}

	c.logger.Debug().Str("tool", tool).Msg("Cache hit")
	return value, true
}

// Set caches value for (tool, args). A zero ttl uses the default.
func (c *ResponseCache) Set(ctx context.Context, tool string, args map[string]interface{}, value interface{}, ttl time.Duration) bool {
	if !c.enabled {
		return false
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Error().Err(err).Str("tool", tool).Msg("Failed to encode value for caching")
		return false
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	ok := c.store.Set(ctx, Key(tool, args), string(data), ttl)
	if ok {
		c.logger.Debug().Str("tool", tool).Dur("ttl", ttl).Msg("Cache set")
	}
	return ok
}

// Delete removes the cached result for (tool, args).
func (c *ResponseCache) Delete(ctx context.Context, tool string, args map[string]interface{}) bool {
	if !c.enabled {
		return false
	}
	return c.store.Delete(ctx, Key(tool, args))
}

// ClearPrefix would bulk-invalidate every entry for a tool. Deliberately
// unimplemented: it needs SCAN support the store contract does not expose,
// and entries self-expire via TTL.
func (c *ResponseCache) ClearPrefix(tool string) bool {
	c.logger.Warn().Str("tool", tool).Msg("ClearPrefix not implemented, entries expire via TTL")
	return false
}
