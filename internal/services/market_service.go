package services

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/zhlu/coinsync/internal/models"
)

// Syncer is the lifecycle surface MarketService exposes from the sync
// engine.
type Syncer interface {
	Start(ctx context.Context) error
	Stop()
}

// SymbolFilter narrows a symbol listing. Empty fields match everything.
type SymbolFilter struct {
	// Search matches case-insensitively against symbol and base asset.
	Search string
	// BaseAsset filters on the exact base asset.
	BaseAsset string
	// QuoteAsset filters on the exact quote asset.
	QuoteAsset string
}

// PageRequest selects a page of price records.
type PageRequest struct {
	Page     int
	PageSize int
	// SortBy is "symbol" (default) or "updated_at".
	SortBy string
	Desc   bool
}

// PricePage is one page of records plus the unpaged total.
type PricePage struct {
	Records []*models.PriceRecord
	Total   int
}

// FundingDiff is the funding-rate spread between two exchanges that both
// quote a symbol.
type FundingDiff struct {
	Long  models.ExchangeID
	Short models.ExchangeID
	Diff  decimal.Decimal
}

// ComparisonRow lines up one symbol's quotes across exchanges.
type ComparisonRow struct {
	Symbol       string
	DisplayName  string
	Prices       map[models.ExchangeID]*decimal.Decimal
	FundingRates map[models.ExchangeID]*decimal.Decimal
	FundingDiffs []FundingDiff
}

// MarketService is the read-side facade over the store and the sync
// engine's lifecycle.
type MarketService struct {
	store  Store
	syncer Syncer
	logger *logrus.Logger
}

// NewMarketService creates the facade. syncer may be nil when the caller
// only needs reads.
func NewMarketService(store Store, syncer Syncer, logger *logrus.Logger) *MarketService {
	if logger == nil {
		logger = logrus.New()
	}
	return &MarketService{store: store, syncer: syncer, logger: logger}
}

// GetSymbols returns the symbols for a market type, filtered.
func (m *MarketService) GetSymbols(ctx context.Context, marketType models.MarketType, filter SymbolFilter) ([]models.SymbolEntity, error) {
	entities, err := m.store.GetSymbols(ctx, marketType)
	if err != nil {
		return nil, err
	}

	search := strings.ToUpper(strings.TrimSpace(filter.Search))
	base := strings.ToUpper(strings.TrimSpace(filter.BaseAsset))
	quote := strings.ToUpper(strings.TrimSpace(filter.QuoteAsset))

	filtered := make([]models.SymbolEntity, 0, len(entities))
	for _, e := range entities {
		if search != "" && !strings.Contains(e.Symbol, search) && !strings.Contains(e.BaseAsset, search) {
			continue
		}
		if base != "" && e.BaseAsset != base {
			continue
		}
		if quote != "" && e.QuoteAsset != quote {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, nil
}

// GetPrices returns one page of price records, sorted.
func (m *MarketService) GetPrices(ctx context.Context, marketType models.MarketType, page PageRequest) (*PricePage, error) {
	records, err := m.store.GetPrices(ctx, marketType)
	if err != nil {
		return nil, err
	}

	sortRecords(records, page.SortBy, page.Desc)

	total := len(records)
	size := page.PageSize
	if size <= 0 {
		size = 50
	}
	number := page.Page
	if number < 1 {
		number = 1
	}
	start := (number - 1) * size
	if start >= total {
		return &PricePage{Records: []*models.PriceRecord{}, Total: total}, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return &PricePage{Records: records[start:end], Total: total}, nil
}

func sortRecords(records []*models.PriceRecord, sortBy string, desc bool) {
	var less func(a, b *models.PriceRecord) bool
	switch sortBy {
	case "updated_at":
		less = func(a, b *models.PriceRecord) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	default:
		less = func(a, b *models.PriceRecord) bool { return a.Symbol < b.Symbol }
	}
	sort.SliceStable(records, func(i, j int) bool {
		if desc {
			return less(records[j], records[i])
		}
		return less(records[i], records[j])
	})
}

// ComparePrices returns per-symbol cross-exchange comparison rows,
// including pairwise funding-rate spreads for perpetuals.
func (m *MarketService) ComparePrices(ctx context.Context, marketType models.MarketType) ([]ComparisonRow, error) {
	records, err := m.store.GetPrices(ctx, marketType)
	if err != nil {
		return nil, err
	}
	symbols, err := m.store.GetSymbols(ctx, marketType)
	if err != nil {
		return nil, err
	}
	assets := make(map[string]models.SymbolEntity, len(symbols))
	for _, e := range symbols {
		assets[e.Symbol] = e
	}

	rows := make([]ComparisonRow, 0, len(records))
	for _, r := range records {
		entity := assets[r.Symbol]
		display := models.DisplayName(r.Symbol)
		if entity.BaseAsset != "" && entity.QuoteAsset != "" {
			display = entity.BaseAsset + "-" + entity.QuoteAsset
		}
		row := ComparisonRow{
			Symbol:       r.Symbol,
			DisplayName:  display,
			Prices:       r.Prices,
			FundingRates: r.FundingRates,
		}
		if marketType == models.MarketPerpetual {
			row.FundingDiffs = fundingDiffs(r)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	return rows, nil
}

// fundingDiffs emits one entry per exchange pair that both have a funding
// rate, oriented so the diff is the premium paid going long on Long and
// short on Short.
func fundingDiffs(r *models.PriceRecord) []FundingDiff {
	registry := models.ExchangeRegistry()
	var diffs []FundingDiff
	for i := 0; i < len(registry); i++ {
		for j := i + 1; j < len(registry); j++ {
			a, b := registry[i].ID, registry[j].ID
			ra, rb := r.FundingRate(a), r.FundingRate(b)
			if ra == nil || rb == nil {
				continue
			}
			diffs = append(diffs, FundingDiff{Long: a, Short: b, Diff: ra.Sub(*rb)})
		}
	}
	return diffs
}

// SetFetchEnabled flips the operator fetch flag for one symbol.
func (m *MarketService) SetFetchEnabled(ctx context.Context, symbol string, marketType models.MarketType, enabled bool) error {
	if err := m.store.UpdateFetchFlag(ctx, symbol, marketType, enabled); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"symbol":      symbol,
		"market_type": marketType,
		"enabled":     enabled,
	}).Info("Fetch flag updated")
	return nil
}

// StartSync starts the sync engine.
func (m *MarketService) StartSync(ctx context.Context) error {
	if m.syncer == nil {
		return nil
	}
	return m.syncer.Start(ctx)
}

// StopSync stops the sync engine.
func (m *MarketService) StopSync() {
	if m.syncer != nil {
		m.syncer.Stop()
	}
}
