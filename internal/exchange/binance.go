package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/zhlu/coinsync/internal/models"
)

const (
	binanceSpotURL    = "https://api.binance.com"
	binanceFuturesURL = "https://fapi.binance.com"

	// Binance error code for an unknown or non-tradable symbol.
	binanceCodeInvalidSymbol = -1121
)

// BinanceAdapter talks to the Binance spot and USD-M futures REST APIs.
type BinanceAdapter struct {
	spotURL    string
	futuresURL string
	client     *http.Client
	log        *logrus.Entry
}

// NewBinanceAdapter creates a Binance adapter.
func NewBinanceAdapter(cfg Config, logger *logrus.Logger) *BinanceAdapter {
	spot := cfg.BaseURL
	if spot == "" {
		spot = binanceSpotURL
	}
	futures := cfg.FuturesURL
	if futures == "" {
		futures = binanceFuturesURL
	}
	return &BinanceAdapter{
		spotURL:    spot,
		futuresURL: futures,
		client:     newHTTPClient(cfg),
		log:        logAdapter(logger, "Binance"),
	}
}

// Name returns "Binance".
func (b *BinanceAdapter) Name() string { return "Binance" }

// ID returns the Binance registry bit.
func (b *BinanceAdapter) ID() models.ExchangeID { return models.ExchangeBinance }

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		Status       string `json:"status"`
		BaseAsset    string `json:"baseAsset"`
		QuoteAsset   string `json:"quoteAsset"`
		ContractType string `json:"contractType"`
	} `json:"symbols"`
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ListSymbols fetches TRADING instruments from exchangeInfo. For perpetual
// markets only PERPETUAL contracts are kept.
func (b *BinanceAdapter) ListSymbols(ctx context.Context, marketType models.MarketType) ([]models.SymbolInfo, error) {
	endpoint := b.spotURL + "/api/v3/exchangeInfo"
	if marketType == models.MarketPerpetual {
		endpoint = b.futuresURL + "/fapi/v1/exchangeInfo"
	}

	var info binanceExchangeInfo
	if _, _, err := httpGetJSON(ctx, b.client, endpoint, &info); err != nil {
		return nil, fmt.Errorf("binance list %s symbols: %w", marketType, err)
	}

	symbols := make([]models.SymbolInfo, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		if marketType == models.MarketPerpetual && s.ContractType != "PERPETUAL" {
			continue
		}
		symbols = append(symbols, models.SymbolInfo{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		})
	}
	b.log.WithFields(logrus.Fields{"market_type": marketType, "count": len(symbols)}).Debug("listed symbols")
	return symbols, nil
}

// FetchTicker fetches the last price from ticker/price.
func (b *BinanceAdapter) FetchTicker(ctx context.Context, symbol string, marketType models.MarketType) (*models.PriceQuote, error) {
	endpoint := b.spotURL + "/api/v3/ticker/price"
	if marketType == models.MarketPerpetual {
		endpoint = b.futuresURL + "/fapi/v1/ticker/price"
	}
	endpoint += "?symbol=" + url.QueryEscape(symbol)

	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	status, body, err := httpGetJSON(ctx, b.client, endpoint, &ticker)
	if err != nil {
		return nil, fmt.Errorf("binance ticker %s: %w", symbol, err)
	}
	if status != http.StatusOK {
		return nil, b.apiError(symbol, status, body)
	}
	if ticker.Price == "" {
		return nil, fmt.Errorf("binance ticker %s: %w", symbol, ErrSymbolNotFound)
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return nil, fmt.Errorf("binance ticker %s: bad price %q: %w", symbol, ticker.Price, err)
	}
	return &models.PriceQuote{LastPrice: price, Timestamp: time.Now()}, nil
}

// FetchFundingRate fetches funding data from premiumIndex.
func (b *BinanceAdapter) FetchFundingRate(ctx context.Context, symbol string) (*models.FundingQuote, error) {
	endpoint := b.futuresURL + "/fapi/v1/premiumIndex?symbol=" + url.QueryEscape(symbol)

	var premium struct {
		Symbol          string `json:"symbol"`
		LastFundingRate string `json:"lastFundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
	}
	status, body, err := httpGetJSON(ctx, b.client, endpoint, &premium)
	if err != nil {
		return nil, fmt.Errorf("binance funding %s: %w", symbol, err)
	}
	if status != http.StatusOK {
		return nil, b.apiError(symbol, status, body)
	}
	if premium.LastFundingRate == "" {
		return nil, fmt.Errorf("binance funding %s: %w", symbol, ErrSymbolNotFound)
	}

	rate, err := decimal.NewFromString(premium.LastFundingRate)
	if err != nil {
		return nil, fmt.Errorf("binance funding %s: bad rate %q: %w", symbol, premium.LastFundingRate, err)
	}
	return &models.FundingQuote{
		Rate:            rate,
		NextFundingTime: time.UnixMilli(premium.NextFundingTime),
	}, nil
}

func (b *BinanceAdapter) apiError(symbol string, status int, body []byte) error {
	var apiErr binanceError
	if len(body) > 0 {
		_ = json.Unmarshal(body, &apiErr)
	}
	if apiErr.Code == binanceCodeInvalidSymbol {
		return fmt.Errorf("binance %s: %w", symbol, ErrSymbolNotFound)
	}
	return fmt.Errorf("binance %s: http %d code %d: %s", symbol, status, apiErr.Code, apiErr.Msg)
}
