package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/zhlu/coinsync/internal/models"
)

const (
	bybitBaseURL = "https://api.bybit.com"

	// Bybit retCode for request parameter errors, including unknown symbols.
	bybitCodeParamError = 10001
)

// BybitAdapter talks to the Bybit v5 market REST API. The category query
// selects spot or linear (USDT perpetual) instruments.
type BybitAdapter struct {
	baseURL string
	client  *http.Client
	log     *logrus.Entry
}

// NewBybitAdapter creates a Bybit adapter.
func NewBybitAdapter(cfg Config, logger *logrus.Logger) *BybitAdapter {
	base := cfg.BaseURL
	if base == "" {
		base = bybitBaseURL
	}
	return &BybitAdapter{
		baseURL: base,
		client:  newHTTPClient(cfg),
		log:     logAdapter(logger, "Bybit"),
	}
}

// Name returns "Bybit".
func (b *BybitAdapter) Name() string { return "Bybit" }

// ID returns the Bybit registry bit.
func (b *BybitAdapter) ID() models.ExchangeID { return models.ExchangeBybit }

type bybitResponse[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []T `json:"list"`
	} `json:"result"`
}

func bybitCategory(marketType models.MarketType) string {
	if marketType == models.MarketPerpetual {
		return "linear"
	}
	return "spot"
}

// ListSymbols fetches trading instruments from instruments-info.
func (b *BybitAdapter) ListSymbols(ctx context.Context, marketType models.MarketType) ([]models.SymbolInfo, error) {
	endpoint := b.baseURL + "/v5/market/instruments-info?category=" + bybitCategory(marketType)

	var resp bybitResponse[struct {
		Symbol    string `json:"symbol"`
		BaseCoin  string `json:"baseCoin"`
		QuoteCoin string `json:"quoteCoin"`
		Status    string `json:"status"`
	}]
	if _, _, err := httpGetJSON(ctx, b.client, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("bybit list %s symbols: %w", marketType, err)
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit list %s symbols: retCode %d: %s", marketType, resp.RetCode, resp.RetMsg)
	}

	symbols := make([]models.SymbolInfo, 0, len(resp.Result.List))
	for _, s := range resp.Result.List {
		if s.Status != "Trading" {
			continue
		}
		symbols = append(symbols, models.SymbolInfo{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseCoin,
			QuoteAsset: s.QuoteCoin,
		})
	}
	b.log.WithFields(logrus.Fields{"market_type": marketType, "count": len(symbols)}).Debug("listed symbols")
	return symbols, nil
}

type bybitTicker struct {
	Symbol          string `json:"symbol"`
	LastPrice       string `json:"lastPrice"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
}

// FetchTicker fetches the last price from the tickers endpoint.
func (b *BybitAdapter) FetchTicker(ctx context.Context, symbol string, marketType models.MarketType) (*models.PriceQuote, error) {
	ticker, err := b.ticker(ctx, symbol, marketType)
	if err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(ticker.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("bybit ticker %s: bad price %q: %w", symbol, ticker.LastPrice, err)
	}
	return &models.PriceQuote{LastPrice: price, Timestamp: time.Now()}, nil
}

// FetchFundingRate reads funding data off the linear ticker, which carries
// fundingRate and nextFundingTime alongside the price.
func (b *BybitAdapter) FetchFundingRate(ctx context.Context, symbol string) (*models.FundingQuote, error) {
	ticker, err := b.ticker(ctx, symbol, models.MarketPerpetual)
	if err != nil {
		return nil, err
	}
	if ticker.FundingRate == "" {
		return nil, fmt.Errorf("bybit funding %s: %w", symbol, ErrSymbolNotFound)
	}
	rate, err := decimal.NewFromString(ticker.FundingRate)
	if err != nil {
		return nil, fmt.Errorf("bybit funding %s: bad rate %q: %w", symbol, ticker.FundingRate, err)
	}
	quote := &models.FundingQuote{Rate: rate}
	if ms, err := strconv.ParseInt(ticker.NextFundingTime, 10, 64); err == nil {
		quote.NextFundingTime = time.UnixMilli(ms)
	}
	return quote, nil
}

func (b *BybitAdapter) ticker(ctx context.Context, symbol string, marketType models.MarketType) (*bybitTicker, error) {
	endpoint := fmt.Sprintf("%s/v5/market/tickers?category=%s&symbol=%s",
		b.baseURL, bybitCategory(marketType), url.QueryEscape(symbol))

	var resp bybitResponse[bybitTicker]
	if _, _, err := httpGetJSON(ctx, b.client, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("bybit ticker %s: %w", symbol, err)
	}
	if resp.RetCode == bybitCodeParamError {
		return nil, fmt.Errorf("bybit ticker %s: %w", symbol, ErrSymbolNotFound)
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit ticker %s: retCode %d: %s", symbol, resp.RetCode, resp.RetMsg)
	}
	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("bybit ticker %s: %w", symbol, ErrSymbolNotFound)
	}
	return &resp.Result.List[0], nil
}
