// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/mail"
	"github.com/gatekeep/gatekeep/internal/ratelimit"
	"github.com/gatekeep/gatekeep/internal/store"
)

// engine is the auth stack wired over one set of repositories.
type engine struct {
	service *auth.Service
	otps    *auth.OtpTokenStore
	hasher  *auth.Argon2idHasher
}

// engineDeps are the collaborators newEngine does not build itself.
type engineDeps struct {
	Users    auth.UserRepository
	Otps     auth.OtpTokenRepository
	Notifier auth.Notifier
	// Recorder may be nil.
	Recorder auth.Recorder
	Logger   *slog.Logger
}

func newEngine(cfg auth.Config, deps engineDeps) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := auth.NewArgon2idHasherWithParams(cfg.Argon2)
	if err != nil {
		return nil, err
	}
	codec, err := auth.NewTokenCodec(cfg)
	if err != nil {
		return nil, err
	}

	otpOpts := []auth.OtpStoreOption{auth.WithOtpLogger(deps.Logger)}
	sessionOpts := []auth.SessionOption{auth.WithSessionLogger(deps.Logger)}
	if deps.Recorder != nil {
		otpOpts = append(otpOpts, auth.WithOtpRecorder(deps.Recorder))
		sessionOpts = append(sessionOpts, auth.WithSessionRecorder(deps.Recorder))
	}

	otps, err := auth.NewOtpTokenStore(deps.Otps, cfg.InvalidatePriorOtps, otpOpts...)
	if err != nil {
		return nil, err
	}
	sessions, err := auth.NewSessionManager(deps.Users, hasher, codec, cfg, sessionOpts...)
	if err != nil {
		return nil, err
	}
	svc, err := auth.NewService(auth.ServiceDeps{
		Sessions: sessions,
		Otps:     otps,
		Users:    deps.Users,
		Hasher:   hasher,
		Notifier: deps.Notifier,
		Logger:   deps.Logger,
	}, cfg)
	if err != nil {
		return nil, err
	}

	return &engine{service: svc, otps: otps, hasher: hasher}, nil
}

func newNotifier(cfg config.MailConfig, logger *slog.Logger) (auth.Notifier, error) {
	switch cfg.Driver {
	case config.MailDriverSMTP:
		n, err := mail.NewSMTPNotifier(mail.Settings{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
			BaseURL:  cfg.BaseURL,
			Timeout:  10 * time.Second,
		}, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	case config.MailDriverLog, "":
		return auth.NewLogNotifier(logger), nil
	default:
		return nil, oops.Code(config.CodeConfigInvalid).With("field", "mail.driver").Errorf("unknown mail driver %q", cfg.Driver)
	}
}

// limiters are the per-route request limiters. close releases any
// backend connection.
type limiters struct {
	login   ratelimit.Limiter
	request ratelimit.Limiter
	close   func() error
}

func newLimiters(ctx context.Context, cfg config.RateLimitConfig) (*limiters, error) {
	out := &limiters{close: func() error { return nil }}

	switch cfg.Backend {
	case config.RateLimitRedis:
		client, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		out.close = client.Close
		if cfg.LoginLimit > 0 {
			if out.login, err = ratelimit.NewRedisLimiter(client, "gk:rl:login:", cfg.LoginLimit, cfg.Window); err != nil {
				_ = client.Close()
				return nil, err
			}
		}
		if cfg.RequestLimit > 0 {
			if out.request, err = ratelimit.NewRedisLimiter(client, "gk:rl:request:", cfg.RequestLimit, cfg.Window); err != nil {
				_ = client.Close()
				return nil, err
			}
		}
	default:
		var err error
		if cfg.LoginLimit > 0 {
			if out.login, err = ratelimit.NewMemoryLimiter(cfg.LoginLimit, cfg.Window); err != nil {
				return nil, err
			}
		}
		if cfg.RequestLimit > 0 {
			if out.request, err = ratelimit.NewMemoryLimiter(cfg.RequestLimit, cfg.Window); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func poolConfig(cfg config.DatabaseConfig) store.PoolConfig {
	pc := store.DefaultPoolConfig()
	pc.MaxConns = cfg.MaxConns
	pc.ConnectRetries = cfg.ConnectRetries
	if cfg.RetryBackoff > 0 {
		pc.RetryBackoff = cfg.RetryBackoff
	}
	return pc
}

// openDatabase connects using the database section of cfg.
func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	return store.Connect(ctx, cfg.Database.URL, poolConfig(cfg.Database), logger)
}

// openEngine connects to the database and wires the engine over it. The
// caller closes the returned pool.
func openEngine(ctx context.Context, cfg *config.Config, notifier auth.Notifier, recorder auth.Recorder, logger *slog.Logger) (*engine, *pgxpool.Pool, error) {
	authCfg := cfg.ToAuthConfig()
	if err := authCfg.Validate(); err != nil {
		return nil, nil, err
	}

	pool, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	eng, err := newEngine(authCfg, engineDeps{
		Users:    postgres.NewUserRepository(pool),
		Otps:     postgres.NewOtpTokenRepository(pool),
		Notifier: notifier,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return eng, pool, nil
}
