// Core engine — a real-time iceberg-order and smart-money detection
// microstructure core for Binance spot/perp order books, enriched with
// Deribit-derived options metrics.
//
// Architecture:
//
//	main.go                     — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/engine/engine.go   — orchestrator: wires transport → symbol tasks, derivatives refresh, persistence
//	internal/symbol/engine.go   — per-symbol cooperative task: book sync, iceberg detection, cohort/VPIN analysis
//	internal/book/              — decimal order book ladders, snapshot+diff synchronization, gap detection
//	internal/iceberg/           — refill-confidence detector, time-decayed lifecycle registry
//	internal/cohort/            — whale/dolphin/minnow classification, CVD, algo-trading classifier
//	internal/toxicity/          — VPIN flow-toxicity analysis
//	internal/transport/         — WebSocket and Redis Streams feed adapters
//	internal/exchange/          — REST client for book snapshots and Deribit derivatives
//	internal/cache/             — Redis-backed derivatives cache (single-producer/many-reader)
//	internal/store/             — async non-blocking persistence (Postgres or JSON)
//	internal/httpapi/           — read-only admin/observability HTTP surface
//
// This system never places or cancels orders — it only observes public
// market data and emits detection events.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"coreengine/internal/config"
	"coreengine/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("COREENGINE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — persistence backend is a no-op")
	}

	logger.Info("core engine started",
		"symbols", cfg.Symbols,
		"transport", cfg.Transport.Kind,
		"store_backend", cfg.Store.Backend,
		"http_api_enabled", cfg.HTTPAPI.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
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
