// Package store is the durable home of symbols and prices: a Postgres
// backing table pair fronted by a TTL-bounded in-memory read cache, so
// high-frequency polling by the presentation layer does not translate into
// backing-store reads. The backing store is the single source of truth; the
// cache is a derived view rebuilt wholesale when its TTL lapses.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/zhlu/coinsync/internal/cache"
	"github.com/zhlu/coinsync/internal/models"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// in tests.
type Pool interface {
	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// Exec executes a query without returning any rows.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Begin starts a transaction.
	Begin(ctx context.Context) (pgx.Tx, error)
}

// schema creates the two tables. One price slot per exchange keeps the
// primary key at (symbol, market_type) instead of one row per exchange.
const schema = `
CREATE TABLE IF NOT EXISTS symbols (
	symbol TEXT NOT NULL,
	market_type TEXT NOT NULL,
	base_asset TEXT NOT NULL DEFAULT '',
	quote_asset TEXT NOT NULL DEFAULT '',
	exchanges BIGINT NOT NULL DEFAULT 0,
	fetch_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (symbol, market_type)
);

CREATE TABLE IF NOT EXISTS prices (
	symbol TEXT NOT NULL,
	market_type TEXT NOT NULL,
	price_binance NUMERIC,
	price_okx NUMERIC,
	price_bybit NUMERIC,
	funding_rate_binance NUMERIC,
	funding_rate_okx NUMERIC,
	funding_rate_bybit NUMERIC,
	next_funding_time_binance TIMESTAMPTZ,
	next_funding_time_okx TIMESTAMPTZ,
	next_funding_time_bybit TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (symbol, market_type)
);

CREATE INDEX IF NOT EXISTS idx_prices_updated_at ON prices (updated_at);
`

// Store persists SymbolEntity and PriceRecord rows in Postgres behind a
// TTL read cache.
type Store struct {
	pool   Pool
	logger *logrus.Logger

	symbolCache *cache.TTLCache[models.MarketType, []models.SymbolEntity]
	priceCache  *cache.TTLCache[models.MarketType, []*models.PriceRecord]

	now func() time.Time
}

// New creates a store with the given read-cache TTL.
func New(pool Pool, readTTL time.Duration, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		pool:        pool,
		logger:      logger,
		symbolCache: cache.NewTTLCache[models.MarketType, []models.SymbolEntity](readTTL),
		priceCache:  cache.NewTTLCache[models.MarketType, []*models.PriceRecord](readTTL),
		now:         time.Now,
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertSymbols merges the freshly discovered symbols for one market type
// into the table. Rows are never deleted; a delisted symbol keeps its row
// and loses its mask bits on the next upsert that covers it. Exchange masks
// are fully replaced, operator fetch flags survive untouched.
// All-or-nothing via a transaction.
func (s *Store) UpsertSymbols(ctx context.Context, marketType models.MarketType, entities []models.SymbolEntity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("upsert symbols: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, e := range entities {
		if _, err := tx.Exec(ctx,
			`INSERT INTO symbols (symbol, market_type, base_asset, quote_asset, exchanges, fetch_enabled, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (symbol, market_type) DO UPDATE SET
				base_asset = EXCLUDED.base_asset,
				quote_asset = EXCLUDED.quote_asset,
				exchanges = EXCLUDED.exchanges,
				updated_at = EXCLUDED.updated_at`,
			e.Symbol, marketType.String(), e.BaseAsset, e.QuoteAsset,
			int64(e.Exchanges), e.FetchEnabled, s.now(),
		); err != nil {
			return fmt.Errorf("upsert symbols: insert %s: %w", e.Symbol, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("upsert symbols: commit: %w", err)
	}

	s.symbolCache.Delete(marketType)
	s.logger.WithFields(logrus.Fields{
		"market_type": marketType,
		"count":       len(entities),
	}).Info("symbol set upserted")
	return nil
}

// UpsertPrice merges one exchange's quote into the price record for
// (symbol, marketType), touching only that exchange's slots. Other
// exchanges' columns are left untouched on conflict, so a partial pass
// never nulls a peer's data. funding may be nil for spot symbols.
func (s *Store) UpsertPrice(ctx context.Context, symbol string, marketType models.MarketType, exch models.ExchangeID, quote *models.PriceQuote, funding *models.FundingQuote) error {
	if quote == nil {
		return errors.New("upsert price: nil quote")
	}
	slug := exch.Slug()
	if slug == "" {
		return fmt.Errorf("upsert price: unregistered exchange %d", exch)
	}

	var err error
	if funding == nil {
		// Column names come from the exchange registry, never from input.
		sql := fmt.Sprintf(
			`INSERT INTO prices (symbol, market_type, price_%[1]s, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (symbol, market_type) DO UPDATE SET
				price_%[1]s = EXCLUDED.price_%[1]s,
				updated_at = EXCLUDED.updated_at`, slug)
		_, err = s.pool.Exec(ctx, sql, symbol, marketType.String(), quote.LastPrice, s.now())
	} else {
		sql := fmt.Sprintf(
			`INSERT INTO prices (symbol, market_type, price_%[1]s, funding_rate_%[1]s, next_funding_time_%[1]s, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (symbol, market_type) DO UPDATE SET
				price_%[1]s = EXCLUDED.price_%[1]s,
				funding_rate_%[1]s = EXCLUDED.funding_rate_%[1]s,
				next_funding_time_%[1]s = EXCLUDED.next_funding_time_%[1]s,
				updated_at = EXCLUDED.updated_at`, slug)
		_, err = s.pool.Exec(ctx, sql, symbol, marketType.String(),
			quote.LastPrice, funding.Rate, funding.NextFundingTime, s.now())
	}
	if err != nil {
		return fmt.Errorf("upsert price %s/%s on %s: %w", symbol, marketType, slug, err)
	}

	s.priceCache.Delete(marketType)
	return nil
}

// GetSymbols returns all symbols for a market type, served from the read
// cache while it is fresh.
func (s *Store) GetSymbols(ctx context.Context, marketType models.MarketType) ([]models.SymbolEntity, error) {
	if cached, ok := s.symbolCache.Get(marketType); ok {
		return cloneSymbols(cached), nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, base_asset, quote_asset, exchanges, fetch_enabled, updated_at
		 FROM symbols WHERE market_type = $1 ORDER BY symbol`,
		marketType.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("get symbols: %w", err)
	}
	defer rows.Close()

	var entities []models.SymbolEntity
	for rows.Next() {
		e := models.SymbolEntity{MarketType: marketType}
		var mask int64
		if err := rows.Scan(&e.Symbol, &e.BaseAsset, &e.QuoteAsset, &mask, &e.FetchEnabled, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("get symbols: scan: %w", err)
		}
		e.Exchanges = models.ExchangeMask(mask)
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get symbols: rows: %w", err)
	}

	s.symbolCache.Set(marketType, entities)
	return cloneSymbols(entities), nil
}

// GetPrices returns all price records for a market type, served from the
// read cache while it is fresh.
func (s *Store) GetPrices(ctx context.Context, marketType models.MarketType) ([]*models.PriceRecord, error) {
	if cached, ok := s.priceCache.Get(marketType); ok {
		return clonePrices(cached), nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT symbol,
			price_binance, price_okx, price_bybit,
			funding_rate_binance, funding_rate_okx, funding_rate_bybit,
			next_funding_time_binance, next_funding_time_okx, next_funding_time_bybit,
			updated_at
		 FROM prices WHERE market_type = $1 ORDER BY symbol`,
		marketType.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("get prices: %w", err)
	}
	defer rows.Close()

	var records []*models.PriceRecord
	for rows.Next() {
		r := models.NewPriceRecord("", marketType)
		var (
			prices [3]*decimal.Decimal
			rates  [3]*decimal.Decimal
			nexts  [3]*time.Time
		)
		if err := rows.Scan(&r.Symbol,
			&prices[0], &prices[1], &prices[2],
			&rates[0], &rates[1], &rates[2],
			&nexts[0], &nexts[1], &nexts[2],
			&r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("get prices: scan: %w", err)
		}
		for i, info := range models.ExchangeRegistry() {
			if prices[i] != nil {
				r.Prices[info.ID] = prices[i]
			}
			if rates[i] != nil {
				r.FundingRates[info.ID] = rates[i]
			}
			if nexts[i] != nil {
				r.NextFundingTimes[info.ID] = nexts[i]
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get prices: rows: %w", err)
	}

	s.priceCache.Set(marketType, records)
	return clonePrices(records), nil
}

// CleanOldData deletes price records whose updated_at is older than the
// retention horizon and invalidates the read cache. Returns the number of
// rows removed.
func (s *Store) CleanOldData(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	tag, err := s.pool.Exec(ctx, `DELETE FROM prices WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clean old data: %w", err)
	}
	for _, mt := range models.MarketTypes() {
		s.priceCache.Delete(mt)
	}
	if tag.RowsAffected() > 0 {
		s.logger.WithFields(logrus.Fields{
			"removed": tag.RowsAffected(),
			"cutoff":  cutoff,
		}).Info("stale price records removed")
	}
	return tag.RowsAffected(), nil
}

// UpdateFetchFlag flips one symbol's fetch flag. The cached entity is
// patched in place; no full cache invalidation happens.
func (s *Store) UpdateFetchFlag(ctx context.Context, symbol string, marketType models.MarketType, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE symbols SET fetch_enabled = $3, updated_at = $4 WHERE symbol = $1 AND market_type = $2`,
		symbol, marketType.String(), enabled, s.now(),
	)
	if err != nil {
		return fmt.Errorf("update fetch flag %s/%s: %w", symbol, marketType, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update fetch flag: symbol %s/%s not found", symbol, marketType)
	}

	s.symbolCache.Update(marketType, func(entities []models.SymbolEntity) []models.SymbolEntity {
		patched := cloneSymbols(entities)
		for i := range patched {
			if patched[i].Symbol == symbol {
				patched[i].FetchEnabled = enabled
			}
		}
		return patched
	})
	return nil
}

// SetClock overrides the store's time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func cloneSymbols(in []models.SymbolEntity) []models.SymbolEntity {
	out := make([]models.SymbolEntity, len(in))
	copy(out, in)
	return out
}

func clonePrices(in []*models.PriceRecord) []*models.PriceRecord {
	out := make([]*models.PriceRecord, len(in))
	copy(out, in)
	return out
}
