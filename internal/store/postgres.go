// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package store owns the PostgreSQL connection and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolConfig tunes the connection pool and the startup retry loop.
type PoolConfig struct {
	MaxConns       int32
	ConnectRetries uint64
	RetryBackoff   time.Duration
	MaxBackoff     time.Duration
}

// DefaultPoolConfig returns the pool settings used when none are configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:       10,
		ConnectRetries: 5,
		RetryBackoff:   250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pool for dsn and waits until the database answers a
// ping, retrying with exponential backoff while it starts up.
func Connect(ctx context.Context, dsn string, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse dsn").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitForDatabase(ctx, pool, cfg, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForDatabase(ctx context.Context, db pinger, cfg PoolConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	backoff := retry.NewExponential(cfg.RetryBackoff)
	if cfg.MaxBackoff > 0 {
		backoff = retry.WithCappedDuration(cfg.MaxBackoff, backoff)
	}
	backoff = retry.WithMaxRetries(cfg.ConnectRetries, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := db.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}

// Ping reports whether the database is reachable. It backs the readiness check.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	if err := pool.Ping(ctx); err != nil {
		return oops.Code("DB_UNAVAILABLE").Wrap(err)
	}
	return nil
}
