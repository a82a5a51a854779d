// Package main provides the entry point for the FetchGuard server.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/launchkit/fetchguard/internal/admin"
	"github.com/launchkit/fetchguard/internal/auth"
	"github.com/launchkit/fetchguard/internal/config"
	"github.com/launchkit/fetchguard/internal/license"
	"github.com/launchkit/fetchguard/internal/metrics"
	"github.com/launchkit/fetchguard/internal/middleware"
	"github.com/launchkit/fetchguard/internal/proxy"
	"github.com/launchkit/fetchguard/internal/storage"
	"github.com/launchkit/fetchguard/internal/urlcheck"
)

const version = "1.0.0"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fetchguard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := metrics.Init(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// The API-key store and issued-license registry share one encrypted
	// SQLite database; the encryption key is derived from the service secret.
	store, err := storage.New(cfg.DatabasePath, encryptionKey(cfg.Secret))
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close() //nolint:errcheck

	licenseSvc, err := license.NewService(cfg.Secret, cfg.Environment, license.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create license service: %w", err)
	}

	reportLicenseStatus(logger, licenseSvc, cfg.LicensePath)

	validator := urlcheck.New(urlcheck.Options{
		AllowedDomains:     cfg.AllowedDomains,
		AllowedPorts:       cfg.AllowedPorts,
		BlockPrivateIPs:    cfg.BlockPrivateIPs,
		BlockMetadataHosts: cfg.BlockMetadataHosts,
		DNSTimeout:         cfg.DNSTimeout,
	}, nil)

	handler := proxy.NewHandler(validator, licenseSvc, logger)
	router := proxy.NewRouter(proxy.RouterConfig{
		Handler:     handler,
		Auth:        auth.NewValidator(store),
		RateLimiter: middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Store:       store,
		Logger:      logger,
		MaxBodySize: 1 << 20,
	})

	apiServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Metrics and the admin API share the internal listener so neither is
	// ever exposed on the public address.
	internalMux := http.NewServeMux()
	internalMux.Handle("/metrics", metrics.Handler())
	adminHandler := admin.NewHandler(store, licenseSvc, logger, cfg.AdminToken)
	internalMux.Handle("/admin/", http.StripPrefix("/admin", adminHandler.Router()))
	metricsServer := &http.Server{
		Addr:              cfg.MetricsListenAddr,
		Handler:           internalMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("fetchguard starting",
			"version", version,
			"addr", cfg.ListenAddr,
			"environment", cfg.Environment)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("API server: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics listener starting", "addr", cfg.MetricsListenAddr)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}

	logger.Info("fetchguard stopped")
	return nil
}

// reportLicenseStatus checks the locally installed license, if any, and
// logs the outcome. An unlicensed server still runs; entitlement gates
// nothing at runtime, it is reported for the operator.
func reportLicenseStatus(logger *slog.Logger, svc *license.Service, path string) {
	store, err := license.NewStore(path)
	if err != nil {
		logger.Warn("failed to locate license store", "error", err)
		return
	}

	rec, err := store.Load()
	switch {
	case errors.Is(err, license.ErrNoRecord):
		logger.Info("no license installed", "path", store.Path())
	case err != nil:
		logger.Warn("failed to load license", "path", store.Path(), "error", err)
	default:
		status := svc.Check(rec)
		metrics.RecordLicenseCheck(string(status))
		logger.Info("license status",
			"license_key", rec.LicenseKey,
			"status", status,
			"entitled", status.Entitled())
	}
}

// newLogger builds a JSON slog logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// encryptionKey derives the 32-byte storage encryption key from the
// service secret. An empty secret (development) still yields a usable key.
func encryptionKey(secret string) []byte {
	sum := sha256.Sum256([]byte("fetchguard-storage-v1:" + secret))
	return sum[:]
}
