package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhlu/coinsync/internal/models"
)

func newTestStore(t *testing.T, readTTL time.Duration) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(mockPool, readTTL, logger), mockPool
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newTestStore(t, 0)
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS symbols").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpsertSymbolsMergesWithoutDeleting(t *testing.T) {
	s, mockPool := newTestStore(t, 0)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	entities := []models.SymbolEntity{
		{
			Symbol: "BTCUSDT", MarketType: models.MarketSpot,
			BaseAsset: "BTC", QuoteAsset: "USDT",
			Exchanges: 7, FetchEnabled: true,
		},
		{
			Symbol: "ETHUSDT", MarketType: models.MarketSpot,
			BaseAsset: "ETH", QuoteAsset: "USDT",
			Exchanges: 3, FetchEnabled: true,
		},
	}

	// No DELETE may ever run against the symbols table; rows only gain
	// or lose mask bits through the upsert itself.
	mockPool.ExpectBegin()
	mockPool.ExpectExec("INSERT INTO symbols").
		WithArgs("BTCUSDT", "spot", "BTC", "USDT", int64(7), true, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec("INSERT INTO symbols").
		WithArgs("ETHUSDT", "spot", "ETH", "USDT", int64(3), true, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback()

	require.NoError(t, s.UpsertSymbols(context.Background(), models.MarketSpot, entities))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpsertSymbolsRollsBackOnError(t *testing.T) {
	s, mockPool := newTestStore(t, 0)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	mockPool.ExpectBegin()
	mockPool.ExpectExec("INSERT INTO symbols").
		WithArgs("BTCUSDT", "spot", "", "", int64(0), false, now).
		WillReturnError(assert.AnError)
	mockPool.ExpectRollback()

	err := s.UpsertSymbols(context.Background(), models.MarketSpot, []models.SymbolEntity{
		{Symbol: "BTCUSDT", MarketType: models.MarketSpot},
	})
	assert.Error(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpsertPriceSpotOmitsFundingColumns(t *testing.T) {
	s, mockPool := newTestStore(t, 0)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	price := decimal.RequireFromString("65000.5")
	mockPool.ExpectExec(`INSERT INTO prices \(symbol, market_type, price_binance, updated_at\)`).
		WithArgs("BTCUSDT", "spot", price, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertPrice(context.Background(), "BTCUSDT", models.MarketSpot,
		models.ExchangeBinance, &models.PriceQuote{LastPrice: price, Timestamp: now}, nil)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpsertPricePerpetualWritesOwnSlotsOnly(t *testing.T) {
	s, mockPool := newTestStore(t, 0)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	price := decimal.RequireFromString("65010")
	rate := decimal.RequireFromString("0.0001")
	next := now.Add(8 * time.Hour)
	mockPool.ExpectExec(`price_okx, funding_rate_okx, next_funding_time_okx`).
		WithArgs("BTCUSDT", "perpetual", price, rate, next, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertPrice(context.Background(), "BTCUSDT", models.MarketPerpetual,
		models.ExchangeOKX,
		&models.PriceQuote{LastPrice: price, Timestamp: now},
		&models.FundingQuote{Rate: rate, NextFundingTime: next})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpsertPriceRejectsUnknownExchange(t *testing.T) {
	s, _ := newTestStore(t, 0)
	err := s.UpsertPrice(context.Background(), "BTCUSDT", models.MarketSpot,
		models.ExchangeID(64), &models.PriceQuote{LastPrice: decimal.New(1, 0)}, nil)
	assert.Error(t, err)
}

func TestGetSymbolsCachesReads(t *testing.T) {
	s, mockPool := newTestStore(t, time.Minute)
	updated := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mockPool.ExpectQuery("SELECT symbol, base_asset, quote_asset, exchanges, fetch_enabled, updated_at").
		WithArgs("spot").
		WillReturnRows(pgxmock.NewRows([]string{"symbol", "base_asset", "quote_asset", "exchanges", "fetch_enabled", "updated_at"}).
			AddRow("BTCUSDT", "BTC", "USDT", int64(7), true, updated).
			AddRow("ETHUSDT", "ETH", "USDT", int64(3), false, updated))

	first, err := s.GetSymbols(context.Background(), models.MarketSpot)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "BTCUSDT", first[0].Symbol)
	assert.Equal(t, models.ExchangeMask(7), first[0].Exchanges)
	assert.False(t, first[1].FetchEnabled)

	// Second read is served from cache, no second query expectation.
	second, err := s.GetSymbols(context.Background(), models.MarketSpot)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetPricesMapsSlotsToExchanges(t *testing.T) {
	s, mockPool := newTestStore(t, time.Minute)
	updated := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	binance := decimal.RequireFromString("65000")
	bybit := decimal.RequireFromString("65002.5")
	cols := []string{
		"symbol",
		"price_binance", "price_okx", "price_bybit",
		"funding_rate_binance", "funding_rate_okx", "funding_rate_bybit",
		"next_funding_time_binance", "next_funding_time_okx", "next_funding_time_bybit",
		"updated_at",
	}
	mockPool.ExpectQuery("SELECT symbol").
		WithArgs("spot").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"BTCUSDT",
			&binance, (*decimal.Decimal)(nil), &bybit,
			(*decimal.Decimal)(nil), (*decimal.Decimal)(nil), (*decimal.Decimal)(nil),
			(*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil),
			updated,
		))

	records, err := s.GetPrices(context.Background(), models.MarketSpot)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "BTCUSDT", r.Symbol)
	require.NotNil(t, r.Price(models.ExchangeBinance))
	assert.True(t, binance.Equal(*r.Price(models.ExchangeBinance)))
	assert.Nil(t, r.Price(models.ExchangeOKX))
	require.NotNil(t, r.Price(models.ExchangeBybit))
	assert.True(t, bybit.Equal(*r.Price(models.ExchangeBybit)))
	assert.Nil(t, r.FundingRate(models.ExchangeBinance))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpsertPriceInvalidatesPriceCache(t *testing.T) {
	s, mockPool := newTestStore(t, time.Minute)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	cols := []string{
		"symbol",
		"price_binance", "price_okx", "price_bybit",
		"funding_rate_binance", "funding_rate_okx", "funding_rate_bybit",
		"next_funding_time_binance", "next_funding_time_okx", "next_funding_time_bybit",
		"updated_at",
	}
	empty := func() *pgxmock.Rows { return pgxmock.NewRows(cols) }

	mockPool.ExpectQuery("SELECT symbol").WithArgs("spot").WillReturnRows(empty())
	_, err := s.GetPrices(context.Background(), models.MarketSpot)
	require.NoError(t, err)

	price := decimal.RequireFromString("100")
	mockPool.ExpectExec("INSERT INTO prices").
		WithArgs("BTCUSDT", "spot", price, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.UpsertPrice(context.Background(), "BTCUSDT", models.MarketSpot,
		models.ExchangeBinance, &models.PriceQuote{LastPrice: price, Timestamp: now}, nil))

	// The write evicted the cached read, so the next read hits the pool again.
	mockPool.ExpectQuery("SELECT symbol").WithArgs("spot").WillReturnRows(empty())
	_, err = s.GetPrices(context.Background(), models.MarketSpot)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestCleanOldData(t *testing.T) {
	s, mockPool := newTestStore(t, 0)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	mockPool.ExpectExec("DELETE FROM prices WHERE updated_at").
		WithArgs(now.Add(-time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	removed, err := s.CleanOldData(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpdateFetchFlagPatchesCache(t *testing.T) {
	s, mockPool := newTestStore(t, time.Minute)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	updated := now.Add(-time.Minute)

	mockPool.ExpectQuery("SELECT symbol, base_asset").
		WithArgs("spot").
		WillReturnRows(pgxmock.NewRows([]string{"symbol", "base_asset", "quote_asset", "exchanges", "fetch_enabled", "updated_at"}).
			AddRow("BTCUSDT", "BTC", "USDT", int64(7), true, updated))
	_, err := s.GetSymbols(context.Background(), models.MarketSpot)
	require.NoError(t, err)

	mockPool.ExpectExec("UPDATE symbols SET fetch_enabled").
		WithArgs("BTCUSDT", "spot", false, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdateFetchFlag(context.Background(), "BTCUSDT", models.MarketSpot, false))

	// No further query: the cached entity was patched in place.
	entities, err := s.GetSymbols(context.Background(), models.MarketSpot)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.False(t, entities[0].FetchEnabled)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpdateFetchFlagUnknownSymbol(t *testing.T) {
	s, mockPool := newTestStore(t, 0)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	mockPool.ExpectExec("UPDATE symbols SET fetch_enabled").
		WithArgs("NOPEUSDT", "spot", true, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateFetchFlag(context.Background(), "NOPEUSDT", models.MarketSpot, true)
	assert.ErrorContains(t, err, "not found")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
