package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SymbolInfo is an instrument as reported by a single exchange, in that
// exchange's native spelling.
type SymbolInfo struct {
	// Symbol is the exchange-native symbol (e.g. "BTC-USDT-SWAP").
	Symbol string `json:"symbol"`
	// BaseAsset is the base currency if the exchange reports it.
	BaseAsset string `json:"base_asset"`
	// QuoteAsset is the quote currency if the exchange reports it.
	QuoteAsset string `json:"quote_asset"`
}

// SymbolEntity is one tradable instrument, exchange-agnostic. The pair
// (Symbol, MarketType) is unique.
type SymbolEntity struct {
	// Symbol is the canonical symbol (e.g. "BTCUSDT").
	Symbol string `json:"symbol" db:"symbol"`
	// MarketType is the market segment the instrument trades on.
	MarketType MarketType `json:"market_type" db:"market_type"`
	// BaseAsset is the base currency; may be empty for short symbols that
	// could not be split.
	BaseAsset string `json:"base_asset" db:"base_asset"`
	// QuoteAsset is the quote currency; may be empty for short symbols.
	QuoteAsset string `json:"quote_asset" db:"quote_asset"`
	// Exchanges is the bitset of exchanges currently listing the instrument.
	Exchanges ExchangeMask `json:"exchanges" db:"exchanges"`
	// FetchEnabled excludes the symbol from price polling when false.
	FetchEnabled bool `json:"fetch_enabled" db:"fetch_enabled"`
	// UpdatedAt is the time of the last discovery write.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PriceQuote is the latest ticker data for one symbol on one exchange.
type PriceQuote struct {
	// LastPrice is the last traded price.
	LastPrice decimal.Decimal `json:"last_price"`
	// Timestamp is when the exchange reported the price.
	Timestamp time.Time `json:"timestamp"`
}

// FundingQuote is the current funding data for one perpetual contract.
type FundingQuote struct {
	// Rate is the funding rate as a fraction (e.g. 0.0001 = 0.01%).
	Rate decimal.Decimal `json:"rate"`
	// NextFundingTime is the next funding settlement time.
	NextFundingTime time.Time `json:"next_funding_time"`
}

// PriceRecord is the latest known quote per (symbol, market type), with one
// slot per exchange rather than one row per exchange. Nil slots mean the
// exchange has not reported yet; a slot is only ever written by that
// exchange's own fetch result.
type PriceRecord struct {
	// Symbol is the canonical symbol.
	Symbol string `json:"symbol" db:"symbol"`
	// MarketType is the market segment.
	MarketType MarketType `json:"market_type" db:"market_type"`
	// Prices holds the last price per exchange.
	Prices map[ExchangeID]*decimal.Decimal `json:"prices"`
	// FundingRates holds the funding rate per exchange (perpetual only).
	FundingRates map[ExchangeID]*decimal.Decimal `json:"funding_rates,omitempty"`
	// NextFundingTimes holds the next funding settlement per exchange
	// (perpetual only).
	NextFundingTimes map[ExchangeID]*time.Time `json:"next_funding_times,omitempty"`
	// UpdatedAt is the last successful write from any exchange.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewPriceRecord creates an empty record with initialized slot maps.
func NewPriceRecord(symbol string, marketType MarketType) *PriceRecord {
	return &PriceRecord{
		Symbol:           symbol,
		MarketType:       marketType,
		Prices:           make(map[ExchangeID]*decimal.Decimal),
		FundingRates:     make(map[ExchangeID]*decimal.Decimal),
		NextFundingTimes: make(map[ExchangeID]*time.Time),
	}
}

// Price returns the price slot for an exchange, or nil.
func (r *PriceRecord) Price(id ExchangeID) *decimal.Decimal {
	if r == nil || r.Prices == nil {
		return nil
	}
	return r.Prices[id]
}

// FundingRate returns the funding rate slot for an exchange, or nil.
func (r *PriceRecord) FundingRate(id ExchangeID) *decimal.Decimal {
	if r == nil || r.FundingRates == nil {
		return nil
	}
	return r.FundingRates[id]
}

// DisplayName renders a canonical symbol in a readable hyphenated form,
// e.g. "BTCUSDT" -> "BTC-USDT". Symbols whose quote asset cannot be
// identified are returned unchanged.
func DisplayName(symbol string) string {
	quotes := []string{"USDT", "BUSD", "USD", "BTC", "ETH"}
	for _, quote := range quotes {
		if len(symbol) > len(quote) && strings.HasSuffix(symbol, quote) {
			return symbol[:len(symbol)-len(quote)] + "-" + quote
		}
	}
	if len(symbol) >= 6 {
		return symbol[:len(symbol)-4] + "-" + symbol[len(symbol)-4:]
	}
	return symbol
}
