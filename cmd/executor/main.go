package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"order-settlement-engine/internal/binance"
	"order-settlement-engine/internal/config"
	"order-settlement-engine/internal/database"
	"order-settlement-engine/internal/gateway"
	"order-settlement-engine/internal/logger"
	"order-settlement-engine/internal/pricefeed"
	"order-settlement-engine/internal/reconcile"
	"order-settlement-engine/internal/scheduler"
	"order-settlement-engine/internal/trader"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	if cfg.Gateway.BaseURL == "" {
		log.Fatal("gateway.base_url is required")
	}

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	clk := clock.New()
	gw := gateway.NewRestClient(cfg.Gateway, log)
	prices := pricefeed.NewCache(clk, cfg.PriceFeed.MaxAge)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	market := binance.NewRestClient(cfg.PriceFeed, log)
	if _, err := market.GetServerTime(ctx); err != nil {
		log.Warn("Price source unreachable, orders wait for prices", zap.Error(err))
	}

	poller := pricefeed.NewPoller(market, prices, cfg.PriceFeed.Symbols, log.Named("pricefeed"))
	pollJob := scheduler.New("pricefeed", cfg.PriceFeed.PollInterval, poller.Poll, scheduler.WithLogger(log))
	if err := pollJob.Start(ctx); err != nil {
		log.Fatal("Failed to start price poller", zap.Error(err))
	}

	engine := trader.NewEngine(log, &cfg, database.NewOrderStore(db), database.NewTradeStore(db), gw, prices, clk)
	reconciler := reconcile.NewReconciler(log, cfg.Reconcile, db, gw, clk)

	apiServer := trader.NewAPIServer(cfg.Server.StatusPort, engine, log, reconciler, prices)
	apiServer.Start()

	workers := []func(context.Context){
		func(ctx context.Context) {
			if err := engine.Run(ctx); err != nil {
				log.Error("Execution engine stopped", zap.Error(err))
			}
		},
		func(ctx context.Context) {
			if err := reconciler.Run(ctx); err != nil {
				log.Error("Reconciler stopped", zap.Error(err))
			}
		},
	}
	if cfg.PriceFeed.StreamEnabled && len(cfg.PriceFeed.Symbols) > 0 {
		stream := pricefeed.NewStream(cfg.PriceFeed.StreamURL, cfg.PriceFeed.Symbols, prices, log.Named("pricefeed"))
		workers = append(workers, stream.Run)
	}
	runAll(ctx, workers...)
	pollJob.Stop()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Executor has been shut down.")
}

// runAll runs every worker until ctx is done and returns once all of them have returned.
func runAll(ctx context.Context, workers ...func(context.Context)) {
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w func(context.Context)) {
			defer wg.Done()
			w(ctx)
		}(w)
	}
	wg.Wait()
}
