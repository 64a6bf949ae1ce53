package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhlu/coinsync/internal/models"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache[string, int](time.Minute)
	c.Set("a", 1)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Now()
	c := NewTTLCache[string, int](time.Hour)
	c.SetClock(func() time.Time { return now })
	c.Set("a", 1)

	_, ok := c.Get("a")
	assert.True(t, ok)

	// Advance past the TTL: the entry is treated as absent.
	now = now.Add(time.Hour + time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCachePurge(t *testing.T) {
	now := time.Now()
	c := NewTTLCache[string, int](time.Minute)
	c.SetClock(func() time.Time { return now })
	c.Set("stale", 1)

	now = now.Add(2 * time.Minute)
	c.Set("fresh", 2)

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestTTLCacheUpdatePatchesInPlace(t *testing.T) {
	now := time.Now()
	c := NewTTLCache[string, int](time.Minute)
	c.SetClock(func() time.Time { return now })
	c.Set("a", 1)

	// Update half-way through the TTL must not reset the insertion time.
	now = now.Add(30 * time.Second)
	assert.True(t, c.Update("a", func(v int) int { return v + 10 }))

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 11, v)

	now = now.Add(31 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)

	assert.False(t, c.Update("missing", func(v int) int { return v }))
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	now := time.Now()
	c := NewTTLCache[string, int](0)
	c.SetClock(func() time.Time { return now })
	c.Set("a", 1)

	now = now.Add(1000 * time.Hour)
	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestInvalidSymbolCache(t *testing.T) {
	logger := logrus.New()
	c := NewInvalidSymbolCache(time.Hour, logger)

	assert.False(t, c.IsInvalid(models.ExchangeBinance, "FOOBAR", models.MarketSpot))

	c.MarkInvalid(models.ExchangeBinance, "FOOBAR", models.MarketSpot)
	assert.True(t, c.IsInvalid(models.ExchangeBinance, "FOOBAR", models.MarketSpot))

	// Keys are scoped per exchange and market type.
	assert.False(t, c.IsInvalid(models.ExchangeOKX, "FOOBAR", models.MarketSpot))
	assert.False(t, c.IsInvalid(models.ExchangeBinance, "FOOBAR", models.MarketPerpetual))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(3), stats.Misses)
	assert.Equal(t, int64(1), stats.Marks)
}

func TestInvalidSymbolCacheTTL(t *testing.T) {
	c := NewInvalidSymbolCache(time.Hour, nil)
	now := time.Now()
	c.cache.SetClock(func() time.Time { return now })

	c.MarkInvalid(models.ExchangeBybit, "DEADUSDT", models.MarketSpot)
	assert.True(t, c.IsInvalid(models.ExchangeBybit, "DEADUSDT", models.MarketSpot))

	now = now.Add(time.Hour + time.Minute)
	assert.False(t, c.IsInvalid(models.ExchangeBybit, "DEADUSDT", models.MarketSpot))
}

func TestPriceSnapshotCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	snap := NewPriceSnapshotCache(client, 30*time.Second, logrus.New())
	ctx := context.Background()

	price := decimal.NewFromInt(50000)
	record := models.NewPriceRecord("BTCUSDT", models.MarketSpot)
	record.Prices[models.ExchangeBinance] = &price
	record.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	require.NoError(t, snap.Publish(ctx, record))

	got, err := snap.Get(ctx, "BTCUSDT", models.MarketSpot)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	require.NotNil(t, got.Prices[models.ExchangeBinance])
	assert.True(t, price.Equal(*got.Prices[models.ExchangeBinance]))
}

func TestPriceSnapshotCacheMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	snap := NewPriceSnapshotCache(client, time.Second, nil)
	got, err := snap.Get(context.Background(), "NOPE", models.MarketSpot)
	require.NoError(t, err)
	assert.Nil(t, got)
}
