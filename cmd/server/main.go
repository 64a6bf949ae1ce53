package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhlu/coinsync/internal/cache"
	"github.com/zhlu/coinsync/internal/config"
	"github.com/zhlu/coinsync/internal/database"
	"github.com/zhlu/coinsync/internal/exchange"
	"github.com/zhlu/coinsync/internal/services"
	"github.com/zhlu/coinsync/internal/store"
)

func main() {
	// Load .env if present; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx := context.Background()

	db, err := database.NewPostgresConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	st := store.New(db.Pool, cfg.Cache.ReadTTL, logger)
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Fatalf("Failed to ensure schema: %v", err)
	}

	var snapshots services.SnapshotPublisher
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedisConnection(cfg.Redis, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		snapshots = cache.NewPriceSnapshotCache(rdb.Client, cfg.Cache.SnapshotTTL, logger)
	}

	adapters := []exchange.Adapter{
		exchange.NewBinanceAdapter(adapterConfig(cfg, "binance"), logger),
		exchange.NewOKXAdapter(adapterConfig(cfg, "okx"), logger),
		exchange.NewBybitAdapter(adapterConfig(cfg, "bybit"), logger),
	}
	queues := services.NewExchangeQueues(adapters, cfg.Queue, logger)
	invalid := cache.NewInvalidSymbolCache(cfg.Cache.InvalidTTL, logger)

	syncService := services.NewSyncService(st, adapters, queues, invalid, snapshots, cfg.Sync, logger)
	marketService := services.NewMarketService(st, syncService, logger)

	if err := marketService.StartSync(ctx); err != nil {
		logger.Fatalf("Failed to start sync: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	marketService.StopSync()
	for _, q := range queues {
		q.Close()
	}
	logger.Info("Shutdown complete")
}

func adapterConfig(cfg *config.Config, slug string) exchange.Config {
	ec := cfg.Exchanges[slug]
	return exchange.Config{
		BaseURL:    ec.BaseURL,
		FuturesURL: ec.FuturesURL,
		Timeout:    ec.Timeout,
	}
}
