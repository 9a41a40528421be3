// Package main provides the entry point for the Helios trading core: it
// wires config, storage, market-data ingestion, the decision pipeline, and
// the HTTP control surface together and runs the Engine until signalled to
// stop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/api"
	"github.com/heliostrading/core/internal/config"
	"github.com/heliostrading/core/internal/engine"
	"github.com/heliostrading/core/internal/execution"
	"github.com/heliostrading/core/internal/ingest"
	"github.com/heliostrading/core/internal/logging"
	"github.com/heliostrading/core/internal/mode"
	"github.com/heliostrading/core/internal/portfolio"
	"github.com/heliostrading/core/internal/position"
	"github.com/heliostrading/core/internal/predictor"
	"github.com/heliostrading/core/internal/recovery"
	"github.com/heliostrading/core/internal/sizing"
	"github.com/heliostrading/core/internal/store"
	"github.com/heliostrading/core/internal/strategic"
	"github.com/heliostrading/core/pkg/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting helios core",
		zap.Strings("pairs", cfg.Pairs),
		zap.String("exchange", cfg.Exchange.BaseURL),
	)

	db, err := store.New(logger, cfg.Database)
	if err != nil {
		logger.Fatal("opening store failed", zap.Error(err))
	}
	defer db.Close()

	pairs := make([]types.Pair, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pairs = append(pairs, types.Pair(p))
	}

	events := make(chan types.Event, 256)

	priceCache := ingest.NewPriceCache()
	priceLookup := ingest.NewPriceLookup(priceCache, db)

	publicClient := ingest.NewPublicDataClient(cfg.Exchange.BaseURL)
	pollerConfig := ingest.DefaultPollerConfig(pairs)
	poller := ingest.NewPoller(logger, publicClient, db, pollerConfig, events)

	wsRecovery := recovery.NewWebSocketRecovery(logger, "price-stream")
	priceStream := ingest.NewPriceStream(logger, cfg.Exchange.WebSocketURL, pairs, events, wsRecovery)

	aggregator := ingest.NewAggregator(logger, db, pairs)

	predictorClient := predictor.New(logger, cfg.Predictor.BaseURL)

	sizer := sizing.New(logger, db, nil, sizing.NeutralTradeStats{}, cfg.Risk)
	marketContext := strategic.NewDefaultContextBuilder(db)
	strategicGate := strategic.New(logger, cfg.Strategic.Enabled, cfg.Strategic.BaseURL, cfg.Strategic.Timeout, marketContext)

	paperClient := execution.NewPaperClient(logger, priceLookup, cfg.Risk.FeePct, decimal.NewFromInt(100000))

	var liveClient *execution.LiveClient
	if cfg.Exchange.APIKey != "" && cfg.Exchange.APISecret != "" {
		liveClient = execution.NewLiveClient(logger, cfg.Exchange.BaseURL, cfg.Exchange.WebSocketURL,
			cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.RequestsPerSec)
	}

	safetyGates := execution.NewSafetyGates(logger, db, liveClient, cfg.Risk)

	modeOrchestrator := mode.New(logger, db)

	router := execution.NewRouter(logger, modeOrchestrator, priceLookup, paperClient, liveClient, safetyGates)

	riskMgr := portfolio.New(logger, db, router, cfg.Risk)
	positions := position.New(logger, db, priceLookup, router)

	eng := engine.New(logger, cfg, db, predictorClient, sizer, strategicGate, riskMgr, positions,
		modeOrchestrator, priceStream, priceCache, events, pairs)

	server := api.NewServer(logger, &cfg.Server, eng)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go poller.Run(ctx)
	go aggregator.Run(ctx)
	go priceStream.Run(ctx)
	go eng.Run(ctx)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server stopped with error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("api server shutdown failed", zap.Error(err))
	}

	<-time.After(100 * time.Millisecond)
	logger.Info("helios core stopped")
}
