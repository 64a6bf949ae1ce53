// Package services houses the sync engine and the read-side facade on top
// of it. The SyncService pulls symbol listings and prices from the exchange
// adapters through their rate-limited queues and reconciles them into the
// store; the MarketService answers queries against the store's read model.
package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/zhlu/coinsync/internal/cache"
	"github.com/zhlu/coinsync/internal/config"
	"github.com/zhlu/coinsync/internal/exchange"
	"github.com/zhlu/coinsync/internal/models"
	"github.com/zhlu/coinsync/internal/normalizer"
	"github.com/zhlu/coinsync/internal/requestq"
)

// Store is the persistence surface the services need.
type Store interface {
	UpsertSymbols(ctx context.Context, marketType models.MarketType, entities []models.SymbolEntity) error
	UpsertPrice(ctx context.Context, symbol string, marketType models.MarketType, exch models.ExchangeID, quote *models.PriceQuote, funding *models.FundingQuote) error
	GetSymbols(ctx context.Context, marketType models.MarketType) ([]models.SymbolEntity, error)
	GetPrices(ctx context.Context, marketType models.MarketType) ([]*models.PriceRecord, error)
	CleanOldData(ctx context.Context, retention time.Duration) (int64, error)
	UpdateFetchFlag(ctx context.Context, symbol string, marketType models.MarketType, enabled bool) error
}

// SnapshotPublisher pushes fresh price records to the external snapshot
// cache. Optional; a nil publisher disables publishing.
type SnapshotPublisher interface {
	Publish(ctx context.Context, record *models.PriceRecord) error
}

// NewExchangeQueues builds one request queue per adapter. A symbol the
// exchange does not list is a fact, not a fault, so ErrSymbolNotFound is
// never retried.
func NewExchangeQueues(adapters []exchange.Adapter, cfg config.QueueConfig, logger *logrus.Logger) map[models.ExchangeID]*requestq.Queue {
	qcfg := requestq.Config{
		RequestDelay: cfg.RequestDelay,
		WindowLimit:  cfg.WindowLimit,
		MaxRetries:   cfg.MaxRetries,
		Retryable: func(err error) bool {
			return !errors.Is(err, exchange.ErrSymbolNotFound)
		},
	}
	queues := make(map[models.ExchangeID]*requestq.Queue, len(adapters))
	for _, ad := range adapters {
		queues[ad.ID()] = requestq.New(ad.Name(), qcfg, logger)
	}
	return queues
}

// SyncService runs the three recurring passes: symbol discovery, price
// refresh, and retention cleanup. Each pass is guarded so a slow run is
// skipped rather than stacked when its ticker fires again.
type SyncService struct {
	store     Store
	adapters  []exchange.Adapter
	queues    map[models.ExchangeID]*requestq.Queue
	invalid   *cache.InvalidSymbolCache
	snapshots SnapshotPublisher
	cfg       config.SyncConfig
	logger    *logrus.Logger

	discoveryRunning atomic.Bool
	priceRunning     atomic.Bool
	cleanupRunning   atomic.Bool

	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	loops     sync.WaitGroup

	now func() time.Time
}

// NewSyncService wires the sync engine together. snapshots may be nil.
func NewSyncService(store Store, adapters []exchange.Adapter, queues map[models.ExchangeID]*requestq.Queue, invalid *cache.InvalidSymbolCache, snapshots SnapshotPublisher, cfg config.SyncConfig, logger *logrus.Logger) *SyncService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SyncService{
		store:     store,
		adapters:  adapters,
		queues:    queues,
		invalid:   invalid,
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs one discovery pass and one price pass synchronously so the
// store is populated before Start returns, then launches the tickers.
// Calling Start on a started service is a no-op, and the service can be
// started again after Stop.
func (s *SyncService) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	if s.running {
		s.lifecycle.Unlock()
		return nil
	}
	// The cancel func must exist before the synchronous passes run, so a
	// Stop issued during startup aborts them instead of hitting nil.
	loopCtx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.lifecycle.Unlock()

	if err := s.RunDiscovery(loopCtx); err != nil {
		s.logger.WithError(err).Error("Initial symbol discovery failed")
	}
	if err := s.RunPriceSync(loopCtx); err != nil {
		s.logger.WithError(err).Error("Initial price sync failed")
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if loopCtx.Err() != nil {
		// Stop arrived during the initial passes; no tickers may start.
		s.logger.Info("Sync service stopped during startup")
		return nil
	}

	s.loops.Add(3)
	go s.loop(loopCtx, "price_sync", s.cfg.PriceInterval, s.RunPriceSync)
	go s.loop(loopCtx, "discovery", s.cfg.DiscoveryInterval, s.RunDiscovery)
	go s.loop(loopCtx, "cleanup", s.cfg.CleanupInterval, s.RunCleanup)

	s.logger.WithFields(logrus.Fields{
		"price_interval":     s.cfg.PriceInterval,
		"discovery_interval": s.cfg.DiscoveryInterval,
		"cleanup_interval":   s.cfg.CleanupInterval,
	}).Info("Sync service started")
	return nil
}

// Stop cancels the tickers and waits for them to exit; an in-flight pass
// aborts at its next context check. The request queues stay open so Start
// can be called again; their shutdown belongs to whoever built them.
// Calling Stop on a stopped service is a no-op.
func (s *SyncService) Stop() {
	s.lifecycle.Lock()
	if !s.running {
		s.lifecycle.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.lifecycle.Unlock()

	s.loops.Wait()
	s.invalid.LogStats()
	s.logger.Info("Sync service stopped")
}

func (s *SyncService) loop(ctx context.Context, name string, interval time.Duration, pass func(context.Context) error) {
	defer s.loops.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pass(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.WithError(err).WithField("pass", name).Error("Sync pass failed")
			}
		}
	}
}

// RunDiscovery lists symbols on every exchange for both market types,
// merges the listings into canonical entities, and upserts them with their
// freshly recomputed exchange masks. Stored symbols are never deleted;
// a delisted instrument simply stops receiving mask bits. A failing
// exchange drops out of that cycle's merge, and if every exchange fails
// for a market type the stored set is left untouched.
func (s *SyncService) RunDiscovery(ctx context.Context) error {
	if !s.discoveryRunning.CompareAndSwap(false, true) {
		s.logger.Debug("Discovery pass already running, skipping")
		return nil
	}
	defer s.discoveryRunning.Store(false)

	for _, marketType := range models.MarketTypes() {
		listings := make([]normalizer.ExchangeListing, len(s.adapters))

		var wg conc.WaitGroup
		for i, ad := range s.adapters {
			i, ad := i, ad
			wg.Go(func() {
				result, err := s.queues[ad.ID()].Do(ctx, func(ctx context.Context) (any, error) {
					return ad.ListSymbols(ctx, marketType)
				})
				if err != nil {
					s.logger.WithError(err).WithFields(logrus.Fields{
						"exchange":    ad.Name(),
						"market_type": marketType,
					}).Warn("Symbol listing failed")
					return
				}
				listings[i] = normalizer.ExchangeListing{
					Exchange: ad.ID(),
					Symbols:  result.([]models.SymbolInfo),
				}
			})
		}
		wg.Wait()

		ok := make([]normalizer.ExchangeListing, 0, len(listings))
		for _, l := range listings {
			if l.Exchange != 0 {
				ok = append(ok, l)
			}
		}
		if len(ok) == 0 {
			s.logger.WithField("market_type", marketType).
				Warn("All symbol listings failed, keeping existing set")
			continue
		}

		merged := normalizer.Merge(marketType, ok, s.now())
		if err := s.store.UpsertSymbols(ctx, marketType, merged); err != nil {
			// One market type failing to persist must not starve the other.
			s.logger.WithError(err).WithField("market_type", marketType).
				Error("Symbol upsert failed")
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"market_type": marketType,
			"symbols":     len(merged),
			"exchanges":   len(ok),
		}).Info("Symbol discovery completed")
	}
	return nil
}

// RunPriceSync refreshes prices for every fetch-enabled symbol, fanning
// out one worker per exchange. Each worker only queries symbols whose mask
// includes its exchange and that are not negative-cached.
func (s *SyncService) RunPriceSync(ctx context.Context) error {
	if !s.priceRunning.CompareAndSwap(false, true) {
		s.logger.Debug("Price pass already running, skipping")
		return nil
	}
	defer s.priceRunning.Store(false)

	for _, marketType := range models.MarketTypes() {
		entities, err := s.store.GetSymbols(ctx, marketType)
		if err != nil {
			s.logger.WithError(err).WithField("market_type", marketType).
				Error("Symbol load failed, skipping market type")
			continue
		}

		var wg conc.WaitGroup
		for _, ad := range s.adapters {
			ad := ad
			var work []string
			for _, e := range entities {
				if !e.FetchEnabled || !e.Exchanges.Has(ad.ID()) {
					continue
				}
				if s.invalid.IsInvalid(ad.ID(), e.Symbol, marketType) {
					continue
				}
				work = append(work, e.Symbol)
			}
			if len(work) == 0 {
				continue
			}
			wg.Go(func() {
				s.refreshExchange(ctx, ad, marketType, work)
			})
		}
		wg.Wait()

		s.publishSnapshots(ctx, marketType)
	}
	return nil
}

// refreshExchange walks one exchange's symbol list through its queue. A
// NotFound answer feeds the negative cache instead of being retried.
func (s *SyncService) refreshExchange(ctx context.Context, ad exchange.Adapter, marketType models.MarketType, symbols []string) {
	queue := s.queues[ad.ID()]
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return
		}
		symbol := symbol
		result, err := queue.Do(ctx, func(ctx context.Context) (any, error) {
			return ad.FetchTicker(ctx, symbol, marketType)
		})
		if err != nil {
			s.handleFetchError(ctx, ad, symbol, marketType, err)
			continue
		}
		quote := result.(*models.PriceQuote)

		var funding *models.FundingQuote
		if marketType == models.MarketPerpetual {
			fresult, ferr := queue.Do(ctx, func(ctx context.Context) (any, error) {
				return ad.FetchFundingRate(ctx, symbol)
			})
			if ferr != nil {
				// Funding is supplementary; the price still lands.
				s.logger.WithError(ferr).WithFields(logrus.Fields{
					"exchange": ad.Name(),
					"symbol":   symbol,
				}).Warn("Funding rate fetch failed")
			} else {
				funding = fresult.(*models.FundingQuote)
			}
		}

		if err := s.store.UpsertPrice(ctx, symbol, marketType, ad.ID(), quote, funding); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"exchange": ad.Name(),
				"symbol":   symbol,
			}).Error("Price upsert failed")
		}
	}
}

func (s *SyncService) handleFetchError(ctx context.Context, ad exchange.Adapter, symbol string, marketType models.MarketType, err error) {
	if errors.Is(err, exchange.ErrSymbolNotFound) {
		s.invalid.MarkInvalid(ad.ID(), symbol, marketType)
		if s.cfg.AutoDisableOnNotFound {
			if uerr := s.store.UpdateFetchFlag(ctx, symbol, marketType, false); uerr != nil {
				s.logger.WithError(uerr).WithField("symbol", symbol).
					Warn("Auto-disable after NotFound failed")
			}
		}
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.WithError(err).WithFields(logrus.Fields{
		"exchange":    ad.Name(),
		"symbol":      symbol,
		"market_type": marketType,
	}).Warn("Ticker fetch failed")
}

func (s *SyncService) publishSnapshots(ctx context.Context, marketType models.MarketType) {
	if s.snapshots == nil {
		return
	}
	records, err := s.store.GetPrices(ctx, marketType)
	if err != nil {
		s.logger.WithError(err).Warn("Snapshot read failed")
		return
	}
	for _, r := range records {
		if err := s.snapshots.Publish(ctx, r); err != nil {
			s.logger.WithError(err).WithField("symbol", r.Symbol).
				Warn("Snapshot publish failed")
			continue
		}
	}
}

// RunCleanup removes price records older than the configured retention.
func (s *SyncService) RunCleanup(ctx context.Context) error {
	if !s.cleanupRunning.CompareAndSwap(false, true) {
		s.logger.Debug("Cleanup pass already running, skipping")
		return nil
	}
	defer s.cleanupRunning.Store(false)

	removed, err := s.store.CleanOldData(ctx, s.cfg.Retention)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("Cleanup pass completed")
	}
	return nil
}
