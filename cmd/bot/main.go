// ladder-mm — a multi-level post-only market maker for a single spot
// trading pair on a KuCoin-shaped centralized exchange.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	engine/engine.go         — supervisor: wires feed → controller → reconciler → exchange, runs periodic tasks
//	quoting/controller.go    — per-tick quote computation and cell placement/cancel requests
//	reconciler/reconciler.go — authoritative truth-set comparison and cell-state resolution
//	ladder/cell.go           — per-(level,side) cell state machine
//	ladder/commitment.go     — inflight/live capital tracker
//	market/snapshot.go       — EWMA volatility, momentum, and OFI derivation
//	market/feed.go           — public reference feed (book ticker + depth)
//	pnl/pnl.go               — FIFO realized P&L ledger
//	exchange/client.go       — REST client (place/cancel/fetch orders, balances, fills)
//	exchange/auth.go         — HMAC request signing
//	exchange/orderstream.go  — duplex private order stream with request/reply correlation
//	risk/guard.go            — ambient circuit breaker (feed staleness, reconcile failures, rapid moves)
//	statusapi/server.go      — read-only operator status surface
//
// How it makes money:
//
//	The engine quotes a symmetric ladder of post-only limit orders around
//	the reference mid price. Orders on both sides earn maker rebates, and
//	fills that close out resting inventory at a better price than it was
//	acquired realize spread P&L. Inventory skew and asymmetric sizing push
//	the ladder to lean against accumulated position; the OFI and trend
//	gates pause or reshape quoting around order-flow imbalance and
//	momentum so the ladder doesn't get run over in a trending market.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ladder-mm/internal/config"
	"ladder-mm/internal/engine"
	"ladder-mm/internal/statusapi"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MM_CONFIG"); p != "" {
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

	var statusServer *statusapi.Server
	if cfg.Status.Enabled {
		statusServer = statusapi.NewServer(cfg.Status, eng, logger)
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.Error("status api failed", "error", err)
			}
		}()
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("ladder-mm starting",
		"symbol", cfg.Symbol,
		"levels", len(cfg.Ladder.Levels),
		"order_notional", cfg.Ladder.OrderNotional,
		"dry_run", cfg.DryRun,
	)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	eng.Run(ctx)

	if statusServer != nil {
		if err := statusServer.Stop(); err != nil {
			logger.Error("failed to stop status api", "error", err)
		}
	}
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
