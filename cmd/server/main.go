// Package main is the entry point of the learning progress HTTP service.
//
// The server loads configuration from the environment, opens the configured
// snapshot store and serves the progress API until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/learning-progress/config"
	"github.com/alem-hub/learning-progress/internal/app"
	httpapi "github.com/alem-hub/learning-progress/internal/interface/http"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg)
	defer log.Sync()

	log.Info("starting learning progress service",
		logger.String("version", cfg.App.Version),
		logger.String("store", cfg.Store.Driver),
		logger.String("timezone", cfg.Engine.Timezone),
		logger.Bool("strict_references", cfg.Engine.StrictReferences),
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		log.Info("closing resources...")
		if err := a.Close(); err != nil {
			log.Error("failed to close resources", logger.Err(err))
		}
	}()

	health := httpapi.NewHealthChecker(cfg.App.Version)
	for name, check := range a.Checks {
		health.AddCheck(name, check)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverConfig := httpapi.DefaultConfig()
	serverConfig.Addr = cfg.HTTP.Addr
	serverConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	serverConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	serverConfig.ConflictRetries = cfg.Engine.ConflictRetries

	server := httpapi.NewServer(serverConfig, httpapi.Dependencies{
		Coordinator:     a.Coordinator,
		GetProgress:     a.GetProgress,
		ExportAnalytics: a.ExportAnalytics,
		Health:          health,
		Logger:          log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}
