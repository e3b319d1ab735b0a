package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mango_go/internal/app"
	"mango_go/internal/infra"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", app.DefaultConfigPath, "path to the YAML config file")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Metrics + Pprof Server (localhost by default)
	metricsHandler, err := infra.NewMetricsHandler(bootstrap.Metrics)
	if err != nil {
		slog.Error("❌ Metrics registration failed", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}
	http.Handle("/metrics", metricsHandler)

	srv := &http.Server{Addr: cfg.Metrics.Addr, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("🕵️ Metrics and pprof server started", slog.String("addr", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	// 4. Trade Feed
	slog.InfoContext(ctx, "✨ Trade feed running. Press Ctrl+C to exit.")
	if err := bootstrap.RunTradeFeed(ctx); err != nil {
		slog.Error("Trade feed failed", slog.Any("error", err))
	}

	slog.Info("👋 Shutting down gracefully...")
	if t, ok := bootstrap.LatestTrade(); ok && t.PriceLots > 0 {
		slog.Info("Last trade",
			slog.String("price", cfg.Market.UIPrice(t.PriceLots).String()),
			slog.Uint64("seq_num", t.QueueSeqNum),
		)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	if err := bootstrap.Close(); err != nil {
		slog.Error("Failed to close trade storage", slog.Any("error", err))
	}
}
