// Package main provides the WebSocket chat server for parley.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/parley/internal/config"
	"github.com/raphaelgruber/parley/internal/metrics"
	"github.com/raphaelgruber/parley/internal/provider"
	"github.com/raphaelgruber/parley/internal/server"
	"github.com/raphaelgruber/parley/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, closeLogger := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	slog.SetDefault(logger)
	defer func() { _ = closeLogger() }()

	slog.Info("starting parley-server", "port", cfg.ServerPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := provider.NewDefaultRegistry(ctx, cfg)
	collector := metrics.NewCollector()

	var sessionStore server.Store
	if cfg.StoreEnabled {
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		storeClient, err := store.NewClient(connectCtx, store.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
		}, logger)
		cancel()
		if err != nil {
			slog.Error("failed to connect to store", "error", err)
			os.Exit(1)
		}
		if err := storeClient.InitSchema(ctx); err != nil {
			slog.Error("failed to initialize schema", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := storeClient.Close(context.Background()); err != nil {
				slog.Error("failed to close store", "error", err)
			}
		}()
		sessionStore = storeClient
	}

	srv := server.New(cfg, registry, collector, sessionStore, logger)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
