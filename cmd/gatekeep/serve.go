// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/httpapi"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/internal/store"
)

func newServeCmd(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the public HTTP API together with the metrics and health
endpoints. The process stops gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, state)
		},
	}
}

func runServe(ctx context.Context, state *cli) error {
	cfg, logger := state.Config, state.Logger

	if cfg.Database.AutoMigrate {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		if err := migrateUp(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	notifier, err := newNotifier(cfg.Mail, logger)
	if err != nil {
		return err
	}

	// The observability server exists before the engine so the engine can
	// record into its registry. It starts listening once the pool is up.
	var (
		pool     *pgxpool.Pool
		obs      *observability.Server
		recorder auth.Recorder
		httpRec  httpapi.Recorder
	)
	if cfg.Metrics.Addr != "" {
		obs = observability.NewServer(cfg.Metrics.Addr, func(ctx context.Context) error {
			return store.Ping(ctx, pool)
		}, logger)
		recorder = obs.Metrics()
		httpRec = obs.Metrics()
	}

	eng, pool, err := openEngine(ctx, cfg, notifier, recorder, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	lim, err := newLimiters(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}
	defer func() {
		if err := lim.close(); err != nil {
			logger.Warn("closing rate limiter backend failed", "operation", "close_ratelimit", "error", err)
		}
	}()

	handler := httpapi.NewHandler(httpapi.Deps{
		Service:        eng.service,
		LoginLimiter:   lim.login,
		RequestLimiter: lim.request,
		Metrics:        httpRec,
		Logger:         logger,
	}, httpapi.Options{
		Cookies: httpapi.CookieOptions{
			Secure: cfg.HTTP.CookieSecure,
			Domain: cfg.HTTP.CookieDomain,
			MaxAge: cfg.Auth.RefreshTTL,
		},
		TrustProxy: cfg.HTTP.TrustProxy,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	var obsErrs <-chan error
	if obs != nil {
		if obsErrs, err = obs.Start(); err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
		}
	}

	srvErrs := make(chan error, 1)
	go func() {
		defer close(srvErrs)
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErrs <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-srvErrs:
		if ok {
			runErr = oops.Code("SERVE_FAILED").With("operation", "serve http").Wrap(err)
		}
	case err, ok := <-obsErrs:
		if ok {
			runErr = oops.Code("SERVE_FAILED").With("operation", "serve observability").Wrap(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", "operation", "shutdown_http", "error", err)
	}
	if obs != nil {
		if err := obs.Stop(shutdownCtx); err != nil {
			logger.Warn("observability server shutdown failed", "operation", "shutdown_observability", "error", err)
		}
	}

	logger.Info("server stopped")
	return runErr
}
