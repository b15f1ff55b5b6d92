// Package main is the trading process: it polls quotes, evaluates the
// strategy set, refreshes allocations, sizes entries with fractional
// Kelly and fills them against the paper broker. The status API exposes
// the live book. Training and backups run in the trainer process; the
// two communicate only through the checkpoint file and the databases.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/allocation"
	"github.com/neolight/smarttrader/internal/clients/alpaca"
	"github.com/neolight/smarttrader/internal/clients/finnhub"
	"github.com/neolight/smarttrader/internal/config"
	"github.com/neolight/smarttrader/internal/database"
	"github.com/neolight/smarttrader/internal/execution"
	"github.com/neolight/smarttrader/internal/ledger"
	"github.com/neolight/smarttrader/internal/quotes"
	"github.com/neolight/smarttrader/internal/regime"
	"github.com/neolight/smarttrader/internal/reliability"
	"github.com/neolight/smarttrader/internal/server"
	"github.com/neolight/smarttrader/internal/sizing"
	"github.com/neolight/smarttrader/internal/strategies"
	"github.com/neolight/smarttrader/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	log.Info().
		Strs("symbols", cfg.Symbols).
		Str("data_dir", cfg.DataDir).
		Msg("Starting trader")

	// Databases
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.LedgerDBPath(),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	portfolioDB, err := database.New(database.Config{
		Path:    cfg.PortfolioDBPath(),
		Profile: database.ProfileStandard,
		Name:    "portfolio",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open portfolio database")
	}
	defer portfolioDB.Close()

	// Repositories
	tradeRepo, err := ledger.NewTradeRepository(ledgerDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize trade repository")
	}
	stateRepo, err := ledger.NewStrategyStateRepository(portfolioDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize strategy state repository")
	}
	returnsRepo, err := ledger.NewReturnsRepository(portfolioDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize returns repository")
	}
	snapshotRepo, err := allocation.NewSnapshotRepository(portfolioDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize allocation snapshot repository")
	}

	// Quote sources in fallback order: Alpaca first, Finnhub second.
	var sources []quotes.Source
	if cfg.AlpacaAPIKey != "" {
		sources = append(sources, alpaca.NewClient(alpaca.Config{
			APIKey:    cfg.AlpacaAPIKey,
			APISecret: cfg.AlpacaAPISecret,
			BaseURL:   cfg.AlpacaBaseURL,
			Timeout:   time.Duration(cfg.QuoteTimeoutSeconds) * time.Second,
		}, log))
	}
	if cfg.FinnhubAPIKey != "" {
		sources = append(sources, finnhub.NewClient(finnhub.Config{
			APIKey:  cfg.FinnhubAPIKey,
			BaseURL: cfg.FinnhubBaseURL,
			Timeout: time.Duration(cfg.QuoteTimeoutSeconds) * time.Second,
		}, log))
	}
	if len(sources) == 0 {
		log.Fatal().Msg("No quote sources configured, set ALPACA_API_KEY or FINNHUB_API_KEY")
	}

	breakers := reliability.NewBreakerRegistry(reliability.BreakerConfig{
		FailureThreshold: cfg.CircuitBreakerThreshold,
		Cooldown:         time.Duration(cfg.CircuitBreakerCooldownSeconds) * time.Second,
		MaxCooldown:      time.Duration(cfg.CircuitBreakerMaxCooldownSeconds) * time.Second,
	}, log)

	quoteService := quotes.NewService(sources, quotes.Config{
		MaxAge:        time.Duration(cfg.QuoteMaxAgeSeconds) * time.Second,
		FetchTimeout:  time.Duration(cfg.QuoteTimeoutSeconds) * time.Second,
		UseStaleCache: cfg.UseStaleCache,
	}, breakers, log)

	// Optional live stream feeds the same cache the poller reads.
	if cfg.AlpacaStreamEnabled && cfg.AlpacaAPIKey != "" {
		stream := alpaca.NewStreamClient(cfg.AlpacaStreamURL, alpaca.Config{
			APIKey:    cfg.AlpacaAPIKey,
			APISecret: cfg.AlpacaAPISecret,
		}, cfg.Symbols, quoteService.HandleStreamQuote, log)
		if err := stream.Start(); err != nil {
			log.Warn().Err(err).Msg("Quote stream failed to start, continuing with polling only")
		} else {
			defer stream.Stop()
		}
	}

	// Strategy set and allocator chain, highest priority first.
	registry := strategies.NewRegistry(retiredStrategies(stateRepo, log), log)

	blConfig := allocation.DefaultBlackLittermanConfig()
	blConfig.MinWeight = cfg.MinAllocationPct
	blConfig.MaxWeight = cfg.MaxAllocationPct

	chain := allocation.NewChain([]allocation.Allocator{
		allocation.NewRLAllocator(cfg.CheckpointDir(), log),
		allocation.NewBlackLitterman(blConfig, log),
		allocation.NewHRP(log),
		allocation.NewSharpeFallback(stateRepo, log),
	}, snapshotRepo, log)

	sizer := sizing.NewSizer(sizing.Config{
		KellyMultiplier:   cfg.KellyFractionMultiplier,
		KellyCap:          cfg.KellyCap,
		MaxPositionPct:    cfg.MaxPositionPct,
		MinTradesForKelly: cfg.MinTradesForKelly,
		FixedFractionPct:  cfg.FixedFractionPct,
	}, log)

	broker := execution.NewPaperBroker(cfg.InitialEquity, log)
	detector := regime.NewDetector(log)

	loop := execution.NewLoop(
		execution.Config{
			Symbols:                 cfg.Symbols,
			BenchmarkSymbol:         cfg.BenchmarkSymbol,
			CycleInterval:           time.Duration(cfg.CycleIntervalSeconds) * time.Second,
			AllocationRefreshCycles: cfg.AllocationRefreshCycles,
			InitialEquity:           cfg.InitialEquity,
		},
		quoteService,
		registry,
		chain,
		sizer,
		broker,
		tradeRepo,
		stateRepo,
		returnsRepo,
		detector,
		breakers,
		log,
	)

	statusServer := server.New(server.Config{
		Port:      cfg.Port,
		DataDir:   cfg.DataDir,
		Loop:      loop,
		Portfolio: broker,
		Quotes:    quoteService,
		Breakers:  breakers,
		Trades:    tradeRepo,
		Log:       log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := statusServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Status server failed")
			cancel()
		}
	}()

	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Execution loop exited")
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Status server shutdown failed")
	}

	log.Info().Msg("Trader stopped")
}

// retiredStrategies reads the retirement flags so disabled strategies
// stay disabled across restarts.
func retiredStrategies(states *ledger.StrategyStateRepository, log zerolog.Logger) map[string]bool {
	all, err := states.GetAll()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load strategy states, running full strategy set")
		return nil
	}

	retired := make(map[string]bool)
	for id, state := range all {
		if state.Retired {
			retired[id] = true
		}
	}
	return retired
}
