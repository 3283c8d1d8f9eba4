// Cross-venue arbitrage engine: detects and executes price discrepancies
// across crypto venues.
//
// Architecture:
//
//	main.go                 entry point: flags, config, signal handling, exit codes
//	engine/engine.go        orchestrator wiring ingestion, scanner, risk gate, executor
//	marketdata/cache.go     per-(venue, symbol) snapshot cache with staleness and alerts
//	strategy/               simple (cross-venue), triangular (one-venue cycles), basis (funding)
//	scanner/scanner.go      periodic synthesis, dedupe, TTL expiry of opportunities
//	risk/gate.go            ordered admission checks against a portfolio snapshot
//	risk/breaker.go         per-venue circuit breakers over the adapter API
//	executor/coordinator.go worker pool driving legs, partial fills, compensation
//	portfolio/portfolio.go  balances, exposure reservations, daily PnL
//	perf/tracker.go         success rate, profit, drawdown, Sharpe
//	venue/                  REST gateway adapter and in-memory demo venue
//	store/store.go          optional Postgres audit trail
//	api/                    read-only dashboard (JSON snapshot and WebSocket events)
//
// Exit codes: 0 clean shutdown, 1 configuration or health-check failure,
// 2 startup failure, 3 emergency stop after a fatal risk event.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"crossarb/internal/config"
	"crossarb/internal/engine"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "configs/config.yaml", "path to YAML config")
		mode        = flag.String("mode", engine.ModeMonitor, "monitor (log approvals) or execute (trade)")
		healthCheck = flag.Bool("health-check", false, "probe config and venues, then exit")
		noDashboard = flag.Bool("no-dashboard", false, "disable the web dashboard")
	)
	flag.Parse()

	if p := os.Getenv("ARB_CONFIG"); p != "" && !flagPassed("config") {
		*configPath = p
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *configPath)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return 1
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, *mode, *noDashboard, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		return 2
	}

	if *healthCheck {
		if err := eng.HealthCheck(); err != nil {
			logger.Error("health check failed", "error", err)
			return 1
		}
		logger.Info("health check ok")
		return 0
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		return 2
	}

	if *mode == engine.ModeMonitor {
		logger.Warn("MONITOR MODE: opportunities are detected and logged, never executed")
	}
	logger.Info("arbitrage engine started",
		"mode", *mode,
		"max_total_exposure", cfg.Risk.MaxTotalExposureQuote,
		"max_daily_loss", cfg.Risk.MaxLossPerDayQuote,
		"demo", cfg.Demo,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		eng.Stop()
		return 0
	case <-eng.Fatal():
		logger.Error("emergency stop completed, exiting")
		eng.Stop()
		return 3
	}
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
