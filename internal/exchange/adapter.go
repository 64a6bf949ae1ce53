// Package exchange contains the adapter boundary to each exchange's public
// REST API. Adapters translate canonical symbols into each exchange's native
// spelling, decode exchange-defined JSON, and map exchange error codes onto
// the shared sentinel errors so callers can tell transient transport
// failures apart from instruments that simply do not exist.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/zhlu/coinsync/internal/models"
)

// ErrSymbolNotFound is the domain error for instruments an exchange does
// not list. It is never retried by the request queue.
var ErrSymbolNotFound = errors.New("symbol not found")

// Adapter is the contract every exchange integration implements.
type Adapter interface {
	// Name returns the exchange display name.
	Name() string
	// ID returns the exchange's registry bit.
	ID() models.ExchangeID
	// ListSymbols fetches all tradable instruments for a market type.
	ListSymbols(ctx context.Context, marketType models.MarketType) ([]models.SymbolInfo, error)
	// FetchTicker fetches the latest price for one canonical symbol.
	FetchTicker(ctx context.Context, symbol string, marketType models.MarketType) (*models.PriceQuote, error)
	// FetchFundingRate fetches current funding data for one perpetual symbol.
	FetchFundingRate(ctx context.Context, symbol string) (*models.FundingQuote, error)
}

// Config holds per-exchange HTTP settings. Empty URLs select the production
// endpoints; tests point them at httptest servers.
type Config struct {
	// BaseURL overrides the spot/public API endpoint.
	BaseURL string
	// FuturesURL overrides the futures API endpoint (Binance only; OKX and
	// Bybit serve both markets from one host).
	FuturesURL string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

// httpGetJSON performs a GET and decodes the body into out. 5xx responses
// are transport errors; 4xx responses are returned with their body so
// callers can inspect exchange error codes.
func httpGetJSON(ctx context.Context, client *http.Client, url string, out any) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return resp.StatusCode, body, fmt.Errorf("server error %d from %s", resp.StatusCode, url)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, body, fmt.Errorf("decode response from %s: %w", url, err)
		}
	}
	return resp.StatusCode, body, nil
}

func newHTTPClient(cfg Config) *http.Client {
	return &http.Client{Timeout: cfg.timeout()}
}

func logAdapter(logger *logrus.Logger, name string) *logrus.Entry {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return logger.WithField("exchange", name)
}
