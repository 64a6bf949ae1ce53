package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarketType(t *testing.T) {
	mt, err := ParseMarketType("spot")
	require.NoError(t, err)
	assert.Equal(t, MarketSpot, mt)

	mt, err = ParseMarketType(" Perpetual ")
	require.NoError(t, err)
	assert.Equal(t, MarketPerpetual, mt)

	_, err = ParseMarketType("margin")
	assert.Error(t, err)
}

func TestExchangeMask(t *testing.T) {
	var mask ExchangeMask
	mask = mask.Add(ExchangeBinance)
	mask = mask.Add(ExchangeBybit)

	assert.True(t, mask.Has(ExchangeBinance))
	assert.False(t, mask.Has(ExchangeOKX))
	assert.True(t, mask.Has(ExchangeBybit))
	assert.Equal(t, ExchangeMask(5), mask)

	// Adding the same bit twice must not change the mask.
	assert.Equal(t, mask, mask.Add(ExchangeBinance))
	assert.Equal(t, []string{"Binance", "Bybit"}, mask.Names())
}

func TestExchangeRegistryOrder(t *testing.T) {
	registry := ExchangeRegistry()
	require.Len(t, registry, 3)
	assert.Equal(t, ExchangeBinance, registry[0].ID)
	assert.Equal(t, ExchangeOKX, registry[1].ID)
	assert.Equal(t, ExchangeBybit, registry[2].ID)

	info, ok := ExchangeBySlug("okx")
	require.True(t, ok)
	assert.Equal(t, "OKX", info.Name)

	_, ok = ExchangeBySlug("kraken")
	assert.False(t, ok)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "BTC-USDT", DisplayName("BTCUSDT"))
	assert.Equal(t, "ETH-BTC", DisplayName("ETHBTC"))
	assert.Equal(t, "SOL-BUSD", DisplayName("SOLBUSD"))
	// No recognizable quote asset and too short for a fixed split.
	assert.Equal(t, "ABCDE", DisplayName("ABCDE"))
}
