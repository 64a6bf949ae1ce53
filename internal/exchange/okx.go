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
	"github.com/zhlu/coinsync/internal/normalizer"
)

const (
	okxBaseURL = "https://www.okx.com"

	// OKX error code for an instrument that does not exist.
	okxCodeInstrumentNotExist = "51001"
)

// OKXAdapter talks to the OKX v5 public REST API. One host serves both spot
// and swap markets; the instType query selects the segment.
type OKXAdapter struct {
	baseURL string
	client  *http.Client
	log     *logrus.Entry
}

// NewOKXAdapter creates an OKX adapter.
func NewOKXAdapter(cfg Config, logger *logrus.Logger) *OKXAdapter {
	base := cfg.BaseURL
	if base == "" {
		base = okxBaseURL
	}
	return &OKXAdapter{
		baseURL: base,
		client:  newHTTPClient(cfg),
		log:     logAdapter(logger, "OKX"),
	}
}

// Name returns "OKX".
func (o *OKXAdapter) Name() string { return "OKX" }

// ID returns the OKX registry bit.
func (o *OKXAdapter) ID() models.ExchangeID { return models.ExchangeOKX }

type okxResponse[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

type okxInstrument struct {
	InstID    string `json:"instId"`
	BaseCcy   string `json:"baseCcy"`
	QuoteCcy  string `json:"quoteCcy"`
	CtValCcy  string `json:"ctValCcy"`
	SettleCcy string `json:"settleCcy"`
	State     string `json:"state"`
}

// ListSymbols fetches live instruments for the market type.
func (o *OKXAdapter) ListSymbols(ctx context.Context, marketType models.MarketType) ([]models.SymbolInfo, error) {
	instType := "SPOT"
	if marketType == models.MarketPerpetual {
		instType = "SWAP"
	}
	endpoint := o.baseURL + "/api/v5/public/instruments?instType=" + instType

	var resp okxResponse[okxInstrument]
	if _, _, err := httpGetJSON(ctx, o.client, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("okx list %s symbols: %w", marketType, err)
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("okx list %s symbols: code %s: %s", marketType, resp.Code, resp.Msg)
	}

	symbols := make([]models.SymbolInfo, 0, len(resp.Data))
	for _, inst := range resp.Data {
		if inst.State != "live" {
			continue
		}
		base, quote := inst.BaseCcy, inst.QuoteCcy
		if base == "" {
			// Swap instruments report contract currencies instead.
			base, quote = inst.CtValCcy, inst.SettleCcy
		}
		symbols = append(symbols, models.SymbolInfo{
			Symbol:     inst.InstID,
			BaseAsset:  base,
			QuoteAsset: quote,
		})
	}
	o.log.WithFields(logrus.Fields{"market_type": marketType, "count": len(symbols)}).Debug("listed symbols")
	return symbols, nil
}

// FetchTicker fetches the last traded price for one canonical symbol.
func (o *OKXAdapter) FetchTicker(ctx context.Context, symbol string, marketType models.MarketType) (*models.PriceQuote, error) {
	instID := o.instID(symbol, marketType)
	endpoint := o.baseURL + "/api/v5/market/ticker?instId=" + url.QueryEscape(instID)

	var resp okxResponse[struct {
		Last string `json:"last"`
		TS   string `json:"ts"`
	}]
	if _, _, err := httpGetJSON(ctx, o.client, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("okx ticker %s: %w", instID, err)
	}
	if resp.Code == okxCodeInstrumentNotExist || (resp.Code == "0" && len(resp.Data) == 0) {
		return nil, fmt.Errorf("okx ticker %s: %w", instID, ErrSymbolNotFound)
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("okx ticker %s: code %s: %s", instID, resp.Code, resp.Msg)
	}

	last, err := decimal.NewFromString(resp.Data[0].Last)
	if err != nil {
		return nil, fmt.Errorf("okx ticker %s: bad price %q: %w", instID, resp.Data[0].Last, err)
	}
	ts := time.Now()
	if ms, err := strconv.ParseInt(resp.Data[0].TS, 10, 64); err == nil {
		ts = time.UnixMilli(ms)
	}
	return &models.PriceQuote{LastPrice: last, Timestamp: ts}, nil
}

// FetchFundingRate fetches current funding data for one perpetual symbol.
func (o *OKXAdapter) FetchFundingRate(ctx context.Context, symbol string) (*models.FundingQuote, error) {
	instID := o.instID(symbol, models.MarketPerpetual)
	endpoint := o.baseURL + "/api/v5/public/funding-rate?instId=" + url.QueryEscape(instID)

	var resp okxResponse[struct {
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
	}]
	if _, _, err := httpGetJSON(ctx, o.client, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("okx funding %s: %w", instID, err)
	}
	if resp.Code == okxCodeInstrumentNotExist || (resp.Code == "0" && len(resp.Data) == 0) {
		return nil, fmt.Errorf("okx funding %s: %w", instID, ErrSymbolNotFound)
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("okx funding %s: code %s: %s", instID, resp.Code, resp.Msg)
	}

	rate, err := decimal.NewFromString(resp.Data[0].FundingRate)
	if err != nil {
		return nil, fmt.Errorf("okx funding %s: bad rate %q: %w", instID, resp.Data[0].FundingRate, err)
	}
	quote := &models.FundingQuote{Rate: rate}
	if ms, err := strconv.ParseInt(resp.Data[0].NextFundingTime, 10, 64); err == nil {
		quote.NextFundingTime = time.UnixMilli(ms)
	}
	return quote, nil
}

// instID converts a canonical symbol into OKX's hyphenated instrument ID,
// e.g. "BTCUSDT" -> "BTC-USDT" (spot) or "BTC-USDT-SWAP" (perpetual).
// Symbols whose assets cannot be derived pass through unchanged.
func (o *OKXAdapter) instID(symbol string, marketType models.MarketType) string {
	base, quote := normalizer.SplitAssets(symbol)
	id := symbol
	if base != "" && quote != "" {
		id = base + "-" + quote
	}
	if marketType == models.MarketPerpetual {
		id += "-SWAP"
	}
	return id
}
