// Statuswatch is a monitor evaluation and status aggregation engine.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/statuswatch/internal/config"
	"github.com/marcus-qen/statuswatch/internal/engine"
	"github.com/marcus-qen/statuswatch/internal/server"
	"github.com/marcus-qen/statuswatch/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to config file (JSON)")
	flag.Parse()

	logger := buildLogger(os.Getenv("STATUSWATCH_LOG_LEVEL"))
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	logger = buildLogger(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		logger.Fatal("cannot create data directory", zap.String("path", cfg.DataDir), zap.Error(err))
	}

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to assemble engine", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("failed to start engine", zap.Error(err))
	}

	notifier := webhook.NewNotifier(logger)
	for _, hook := range cfg.Webhooks {
		notifier.Register(webhook.Endpoint{
			URL:     hook.URL,
			Secret:  hook.Secret,
			Events:  hook.Events,
			Enabled: true,
		})
	}
	go notifier.Run(ctx, eng.Bus())

	srv := server.New(cfg, eng, notifier, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := eng.Close(); err != nil {
		logger.Warn("engine close", zap.Error(err))
	}
}

func buildLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil && level != "" {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}
