package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "coinsync", cfg.Database.DBName)

	assert.Equal(t, 10*time.Second, cfg.Sync.PriceInterval)
	assert.Equal(t, 24*time.Hour, cfg.Sync.DiscoveryInterval)
	assert.Equal(t, time.Hour, cfg.Sync.CleanupInterval)
	assert.Equal(t, time.Hour, cfg.Sync.Retention)
	assert.False(t, cfg.Sync.AutoDisableOnNotFound)

	assert.Equal(t, 10*time.Second, cfg.Cache.ReadTTL)
	assert.Equal(t, time.Hour, cfg.Cache.InvalidTTL)

	assert.Equal(t, 200*time.Millisecond, cfg.Queue.RequestDelay)
	assert.Equal(t, 20, cfg.Queue.WindowLimit)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)

	require.Contains(t, cfg.Exchanges, "okx")
	assert.Equal(t, 10*time.Second, cfg.Exchanges["okx"].Timeout)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SYNC_PRICE_INTERVAL", "30s")
	t.Setenv("DATABASE_URL", "postgres://sync:pw@db:5432/prices")
	t.Setenv("SYNC_AUTO_DISABLE_ON_NOTFOUND", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Sync.PriceInterval)
	assert.Equal(t, "postgres://sync:pw@db:5432/prices", cfg.Database.DatabaseURL)
	assert.True(t, cfg.Sync.AutoDisableOnNotFound)
}
