package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhlu/coinsync/internal/models"
)

// InvalidSymbolStats holds hit/miss counters for the negative cache.
type InvalidSymbolStats struct {
	// Hits is the number of lookups that found a fresh entry.
	Hits int64 `json:"hits"`
	// Misses is the number of lookups that found nothing.
	Misses int64 `json:"misses"`
	// Marks is the total number of symbols recorded as invalid.
	Marks int64 `json:"marks"`
}

// InvalidSymbolCache is a short-TTL negative cache of (exchange, symbol,
// market type) keys that recently failed to resolve. Its presence check
// suppresses fetch attempts for instruments an exchange does not support,
// so a delisted pair is retried at most once per TTL window.
type InvalidSymbolCache struct {
	cache  *TTLCache[string, time.Time]
	logger *logrus.Logger

	hits   atomic.Int64
	misses atomic.Int64
	marks  atomic.Int64
}

// NewInvalidSymbolCache creates a negative cache with the given TTL.
func NewInvalidSymbolCache(ttl time.Duration, logger *logrus.Logger) *InvalidSymbolCache {
	return &InvalidSymbolCache{
		cache:  NewTTLCache[string, time.Time](ttl),
		logger: logger,
	}
}

// MarkInvalid records that the exchange rejected the symbol.
func (c *InvalidSymbolCache) MarkInvalid(exchange models.ExchangeID, symbol string, marketType models.MarketType) {
	c.cache.Set(invalidKey(exchange, symbol, marketType), time.Now())
	c.marks.Add(1)
	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"exchange":    exchange.Name(),
			"symbol":      symbol,
			"market_type": marketType,
		}).Debug("symbol marked invalid")
	}
}

// IsInvalid reports whether the key was marked invalid within the TTL.
func (c *InvalidSymbolCache) IsInvalid(exchange models.ExchangeID, symbol string, marketType models.MarketType) bool {
	if _, ok := c.cache.Get(invalidKey(exchange, symbol, marketType)); ok {
		c.hits.Add(1)
		return true
	}
	c.misses.Add(1)
	return false
}

// Stats returns a snapshot of the cache counters.
func (c *InvalidSymbolCache) Stats() InvalidSymbolStats {
	return InvalidSymbolStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Marks:  c.marks.Load(),
	}
}

// LogStats logs the current counters at debug level.
func (c *InvalidSymbolCache) LogStats() {
	if c.logger == nil {
		return
	}
	stats := c.Stats()
	c.logger.WithFields(logrus.Fields{
		"hits":    stats.Hits,
		"misses":  stats.Misses,
		"marks":   stats.Marks,
		"entries": c.cache.Len(),
	}).Debug("invalid symbol cache stats")
}

func invalidKey(exchange models.ExchangeID, symbol string, marketType models.MarketType) string {
	return fmt.Sprintf("%s:%s:%s", exchange.Slug(), symbol, marketType)
}
