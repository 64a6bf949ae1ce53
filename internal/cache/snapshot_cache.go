package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zhlu/coinsync/internal/models"
)

// PriceSnapshotCache publishes the latest merged price records to Redis so
// processes outside the collector (dashboards, bots) can read them without
// touching Postgres. Publish failures are reported but callers treat them as
// non-fatal; Postgres remains the source of truth.
type PriceSnapshotCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *logrus.Logger
}

// NewPriceSnapshotCache creates a snapshot cache on top of a Redis client.
func NewPriceSnapshotCache(client redis.Cmdable, ttl time.Duration, logger *logrus.Logger) *PriceSnapshotCache {
	return &PriceSnapshotCache{
		client: client,
		ttl:    ttl,
		prefix: "price",
		logger: logger,
	}
}

// Publish stores the record under price:<market>:<symbol> with the cache TTL.
func (c *PriceSnapshotCache) Publish(ctx context.Context, record *models.PriceRecord) error {
	if record == nil {
		return errors.New("nil price record")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal price record: %w", err)
	}
	key := c.key(record.Symbol, record.MarketType)
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		if c.logger != nil {
			c.logger.WithError(err).WithField("key", key).Warn("failed to publish price snapshot")
		}
		return fmt.Errorf("publish snapshot %s: %w", key, err)
	}
	return nil
}

// Get retrieves a published record, or (nil, nil) when absent or expired.
func (c *PriceSnapshotCache) Get(ctx context.Context, symbol string, marketType models.MarketType) (*models.PriceRecord, error) {
	payload, err := c.client.Get(ctx, c.key(symbol, marketType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	var record models.PriceRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &record, nil
}

func (c *PriceSnapshotCache) key(symbol string, marketType models.MarketType) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, marketType, symbol)
}
