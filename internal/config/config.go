package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates all configuration settings for the sync service.
type Config struct {
	// Environment indicates the running environment ("development", "production").
	Environment string `mapstructure:"environment"`
	// LogLevel sets the global logging verbosity.
	LogLevel string `mapstructure:"log_level"`
	// Database holds the PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Redis holds the Redis connection settings.
	Redis RedisConfig `mapstructure:"redis"`
	// Sync holds scheduling settings for the three sync passes.
	Sync SyncConfig `mapstructure:"sync"`
	// Cache holds TTL settings for the caching layers.
	Cache CacheConfig `mapstructure:"cache"`
	// Queue holds rate-limit settings for the per-exchange request queues.
	Queue QueueConfig `mapstructure:"queue"`
	// Exchanges holds per-exchange endpoint overrides keyed by slug.
	Exchanges map[string]ExchangeConfig `mapstructure:"exchanges"`
}

// DatabaseConfig defines the PostgreSQL connection settings.
type DatabaseConfig struct {
	// Host is the database server hostname or IP.
	Host string `mapstructure:"host"`
	// Port is the database server port.
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password.
	Password string `mapstructure:"password"`
	// DBName is the name of the database to connect to.
	DBName string `mapstructure:"dbname"`
	// SSLMode defines the SSL connection mode.
	SSLMode string `mapstructure:"sslmode"`
	// DatabaseURL is a connection string that overrides the fields above
	// when set.
	DatabaseURL string `mapstructure:"database_url"`
}

// RedisConfig defines the Redis connection settings.
type RedisConfig struct {
	// Host is the Redis server hostname.
	Host string `mapstructure:"host"`
	// Port is the Redis server port.
	Port int `mapstructure:"port"`
	// Password is the Redis authentication password.
	Password string `mapstructure:"password"`
	// DB is the Redis database index to use.
	DB int `mapstructure:"db"`
	// Enabled toggles the Redis snapshot cache; the service runs without
	// Redis when false.
	Enabled bool `mapstructure:"enabled"`
}

// SyncConfig defines the intervals and policies of the sync passes.
type SyncConfig struct {
	// PriceInterval is the period of the price-refresh pass.
	PriceInterval time.Duration `mapstructure:"price_interval"`
	// DiscoveryInterval is the period of the symbol-discovery pass.
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
	// CleanupInterval is the period of the stale-data cleanup pass.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// Retention is how long price records live without a successful update.
	Retention time.Duration `mapstructure:"retention"`
	// AutoDisableOnNotFound flips a symbol's fetch flag off when an
	// exchange reports the instrument does not exist. When false the
	// NotFound only populates the negative cache.
	AutoDisableOnNotFound bool `mapstructure:"auto_disable_on_notfound"`
}

// CacheConfig defines the TTLs of the caching layers.
type CacheConfig struct {
	// ReadTTL bounds how long store reads are served from memory.
	ReadTTL time.Duration `mapstructure:"read_ttl"`
	// InvalidTTL bounds how long a symbol stays in the negative cache.
	InvalidTTL time.Duration `mapstructure:"invalid_ttl"`
	// SnapshotTTL bounds how long published Redis price snapshots live.
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// QueueConfig defines rate limiting for outbound exchange requests.
type QueueConfig struct {
	// RequestDelay is the pause between dispatches on one queue.
	RequestDelay time.Duration `mapstructure:"request_delay"`
	// WindowLimit caps requests per second per exchange; 0 disables it.
	WindowLimit int `mapstructure:"window_limit"`
	// MaxRetries is the attempt bound for transient failures.
	MaxRetries int `mapstructure:"max_retries"`
}

// ExchangeConfig defines per-exchange endpoint overrides.
type ExchangeConfig struct {
	// BaseURL overrides the exchange's public API endpoint.
	BaseURL string `mapstructure:"base_url"`
	// FuturesURL overrides the futures endpoint where it differs.
	FuturesURL string `mapstructure:"futures_url"`
	// Timeout bounds each HTTP request to the exchange.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from config.yaml (optional) and the environment.
//
// Returns:
//
//	*Config: The populated configuration.
//	error: Error if reading or unmarshaling fails.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("database.database_url", "DATABASE_URL")
	_ = viper.BindEnv("redis.host", "REDIS_HOST")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "coinsync")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", true)

	viper.SetDefault("sync.price_interval", "10s")
	viper.SetDefault("sync.discovery_interval", "24h")
	viper.SetDefault("sync.cleanup_interval", "1h")
	viper.SetDefault("sync.retention", "1h")
	viper.SetDefault("sync.auto_disable_on_notfound", false)

	viper.SetDefault("cache.read_ttl", "10s")
	viper.SetDefault("cache.invalid_ttl", "1h")
	viper.SetDefault("cache.snapshot_ttl", "30s")

	viper.SetDefault("queue.request_delay", "200ms")
	viper.SetDefault("queue.window_limit", 20)
	viper.SetDefault("queue.max_retries", 3)

	for _, slug := range []string{"binance", "okx", "bybit"} {
		viper.SetDefault("exchanges."+slug+".base_url", "")
		viper.SetDefault("exchanges."+slug+".futures_url", "")
		viper.SetDefault("exchanges."+slug+".timeout", "10s")
	}
}
