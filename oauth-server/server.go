// Package main runs the Xero authorization callback server. It completes the
// authorization-code flow for a browser, exposes metrics and keeps the
// refresh token alive with a background renewal job.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-training/xero-oauth/pkg/authz"
	"github.com/go-training/xero-oauth/pkg/config"
	"github.com/go-training/xero-oauth/pkg/core"
	"github.com/go-training/xero-oauth/pkg/logger"
	"github.com/go-training/xero-oauth/pkg/metrics"
	"github.com/go-training/xero-oauth/pkg/store"
	"github.com/go-training/xero-oauth/pkg/xero"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		slog.Error("Failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg := config.FromEnv()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	// Initialize logger with the specified log level
	logger.NewWithLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	settings, err := store.NewStore(cfg.StoreOptions())
	if err != nil {
		slog.Error("Failed to create store", "type", cfg.Store.Type, "error", err)
		os.Exit(1)
	}
	slog.Info("Using settings store", "type", cfg.Store.Type)

	tokens := authz.NewSettingsTokenStore(settings)
	if creds := cfg.Credentials(); creds.Configured() {
		if err := tokens.SaveCredentials(context.Background(), creds); err != nil {
			slog.Error("Failed to store client credentials", "error", err)
			os.Exit(1)
		}
		slog.Info("Stored Xero client credentials", "client_id", creds.ClientID)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	controller := authz.New(
		tokens,
		authz.NewSessionStateGuard(settings),
		func(creds core.ClientCredentials) authz.Negotiator {
			return xero.NewNegotiator(creds, cfg.RedirectURL, xero.WithTimeout(cfg.RequestTimeout))
		},
		xero.NewConnectionsClient(xero.WithTimeout(cfg.RequestTimeout)),
		authz.WithLocker(settings),
		authz.WithMetrics(metrics.New(registry)),
	)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      newRouter(controller, registry, isHTTPS(cfg.RedirectURL)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.EvaluationTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	m := graceful.NewManager()

	m.AddRunningJob(func(ctx context.Context) error {
		slog.Info("Xero callback server listening", "addr", cfg.Addr, "redirect_url", cfg.RedirectURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	m.AddRunningJob(func(ctx context.Context) error {
		return renewLoop(ctx, controller, cfg.RenewInterval)
	})

	m.AddShutdownJob(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Server forced to shutdown", "err", err)
			return err
		}
		return nil
	})

	m.AddShutdownJob(func() error {
		return settings.Close()
	})

	<-m.Done()
	slog.Info("Server shutdown gracefully")
}

func isHTTPS(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && u.Scheme == "https"
}
