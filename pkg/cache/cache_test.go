package cache

import (
	"context"
	"testing"
	"time"

	"github.com/minervahq/minerva/pkg/kvstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache() (*ResponseCache, *kvstore.MemoryStore) {
	store := kvstore.NewMemoryStore()
	return New(store, zerolog.Nop()), store
}

func TestKeyDeterminism(t *testing.T) {
	t.Run("should ignore argument insertion order", func(t *testing.T) {
		a := map[string]interface{}{"symbol": "AAPL", "period": "1mo"}
		b := map[string]interface{}{"period": "1mo", "symbol": "AAPL"}

		assert.Equal(t, Key("get_historical_data", a), Key("get_historical_data", b))
	})

	t.Run("should differ per tool", func(t *testing.T) {
		args := map[string]interface{}{"symbol": "AAPL"}

		assert.NotEqual(t, Key("get_stock_price", args), Key("get_stock_news", args))
	})

	t.Run("should differ per argument value", func(t *testing.T) {
		a := map[string]interface{}{"symbol": "AAPL"}
		b := map[string]interface{}{"symbol": "MSFT"}

		assert.NotEqual(t, Key("get_stock_price", a), Key("get_stock_price", b))
	})

	t.Run("should use the documented namespace", func(t *testing.T) {
		key := Key("get_stock_price", map[string]interface{}{"symbol": "AAPL"})

		assert.Regexp(t, `^cache:get_stock_price:[0-9a-f]{16}$`, key)
	})
}

func TestCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	args := map[string]interface{}{"symbol": "AAPL"}
	value := map[string]interface{}{"price": 100.0, "currency": "USD"}

	require.True(t, c.Set(ctx, "get_stock_price", args, value, time.Minute))

	got, ok := c.Get(ctx, "get_stock_price", args)
	require.True(t, ok)
	assert.Equal(t, value, got)

	t.Run("should miss for an unset key", func(t *testing.T) {
		_, ok := c.Get(ctx, "get_stock_price", map[string]interface{}{"symbol": "TSLA"})
		assert.False(t, ok)
	})

	t.Run("should miss after delete", func(t *testing.T) {
		assert.True(t, c.Delete(ctx, "get_stock_price", args))

		_, ok := c.Get(ctx, "get_stock_price", args)
		assert.False(t, ok)
	})
}

func TestCacheTTL(t *testing.T) {
	store := kvstore.NewMemoryStore()
	now := time.Now()
	store.SetClock(func() time.Time { return now })
	c := New(store, zerolog.Nop())
	ctx := context.Background()

	args := map[string]interface{}{"symbol": "AAPL"}
	require.True(t, c.Set(ctx, "get_stock_price", args, "cached", 30*time.Second))

	_, ok := c.Get(ctx, "get_stock_price", args)
	assert.True(t, ok)

	now = now.Add(31 * time.Second)

	_, ok = c.Get(ctx, "get_stock_price", args)
	assert.False(t, ok, "entry should expire after its TTL")
}

func TestCacheDegradesWithoutStore(t *testing.T) {
	unavailable := kvstore.NewRedisStore(context.Background(), kvstore.RedisConfig{})
	c := New(unavailable, zerolog.Nop())
	ctx := context.Background()

	args := map[string]interface{}{"symbol": "AAPL"}

	assert.False(t, c.Set(ctx, "get_stock_price", args, "v", time.Minute))

	_, ok := c.Get(ctx, "get_stock_price", args)
	assert.False(t, ok)
	assert.False(t, c.Delete(ctx, "get_stock_price", args))
}

func TestClearPrefixUnsupported(t *testing.T) {
	c, _ := newTestCache()

	assert.False(t, c.ClearPrefix("get_stock_price"))
}
