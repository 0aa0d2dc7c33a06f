// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// RedisLimiter is a fixed-window limiter shared by every process using the
// same redis. Each window is one INCR'd key that expires with the window.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter allows limit hits per key per window.
func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) (*RedisLimiter, error) {
	if client == nil {
		return nil, oops.Code("RATELIMIT_CONFIG_INVALID").Errorf("redis client is required")
	}
	if limit < 1 || window <= 0 {
		return nil, oops.Code("RATELIMIT_CONFIG_INVALID").
			With("limit", limit).
			With("window", window.String()).
			Errorf("limit and window must be positive")
	}
	if prefix == "" {
		prefix = "gk:rl:"
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: int64(limit), window: window, now: time.Now}, nil
}

// Allow records a hit for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	w := currentWindow(l.prefix, key, l.window, l.now())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, w.key)
	pipe.ExpireNX(ctx, w.key, l.window)
	ttl := pipe.PTTL(ctx, w.key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, oops.Code("RATELIMIT_BACKEND_FAILED").
			With("operation", "incr window").
			With("backend", "redis").
			Wrap(err)
	}

	retry := ttl.Val()
	if retry <= 0 {
		retry = w.remaining
	}
	return result(incr.Val(), l.limit, retry), nil
}

// NewRedisClient parses url and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("RATELIMIT_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("RATELIMIT_BACKEND_FAILED").With("operation", "ping redis").Wrap(err)
	}
	return client, nil
}

var _ Limiter = (*RedisLimiter)(nil)
