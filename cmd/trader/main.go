package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paper-trade-engine/internal/binance"
	"paper-trade-engine/internal/config"
	"paper-trade-engine/internal/database"
	"paper-trade-engine/internal/ledger"
	"paper-trade-engine/internal/logger"
	"paper-trade-engine/internal/market"
	"paper-trade-engine/internal/risk"
	"paper-trade-engine/internal/trader"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	oracle := newOracle(ctx, &cfg, db, log)
	store := ledger.NewStore(db, log)
	gate := risk.NewGate(risk.LimitsFromConfig(cfg.Risk), log)
	svc := trader.NewService(store, oracle, gate, cfg.Trading, log)

	monitor := trader.NewMonitor(svc, cfg.Monitor, log)
	if cfg.Monitor.AutoStart {
		monitor.Start(ctx)
	}

	apiServer := trader.NewAPIServer(ctx, monitor, cfg.Server.ControlPort, log)
	apiServer.Start()

	<-ctx.Done()

	monitor.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server", zap.Error(err))
	}

	log.Info("Trader has been shut down.")
}

// newOracle prices symbols from the Binance ticker, falling back to the last
// stored price, or from a static table when Binance is disabled.
func newOracle(ctx context.Context, cfg *config.Config, db *gorm.DB, log *zap.Logger) market.Oracle {
	if !cfg.Binance.Enabled {
		log.Warn("Binance disabled, using an empty static price table")
		return market.NewStaticOracle(nil)
	}

	restClient := binance.NewRestClient(&cfg.Binance, log)
	if _, err := restClient.GetServerTime(ctx); err != nil {
		log.Warn("Binance API unreachable, serving last known prices", zap.Error(err))
	} else {
		log.Info("Successfully connected to Binance API.")
	}

	primary := market.NewBinanceOracle(restClient, cfg.Binance.QuoteAsset, log)
	return market.NewFallbackOracle(primary, db, cfg.Binance.PriceMaxAge, log)
}
