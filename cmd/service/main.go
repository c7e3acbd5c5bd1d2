// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github-dashboard-sync/internal/api"
	"github-dashboard-sync/internal/cache"
	"github-dashboard-sync/internal/config"
	"github-dashboard-sync/internal/github"
	"github-dashboard-sync/internal/report"
	"github-dashboard-sync/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully",
		"cache_dir", cfg.CacheDir,
		"orgs", cfg.Orgs(),
		"cache_ttl", cfg.CacheTTL().String(),
		"batch_size", cfg.SyncBatchSize,
	)

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize application components
	tracker := report.NewTracker(cfg.RateLimitHourlyQuota, cfg.ReportDir, logger)
	ghClient := github.NewClient(cfg.GithubToken, cfg.CallTimeout(), tracker, logger)
	store := cache.NewStore(cfg.CacheDir, logger)
	appSyncer := syncer.NewSyncer(ghClient, store, tracker, logger, cfg.Orgs(), cfg.CacheTTL(), cfg.SyncBatchSize, cfg.BatchDelay())

	// 5. Start the HTTP server. Syncs are triggered by inbound requests;
	// there is no background scheduler.
	router := api.NewRouter(appSyncer, tracker, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 6. Wait for shutdown signal or server failure
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Exiting.")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}

	// 7. Drain in-flight requests
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
