// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package ratelimit

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/oops"
)

// MemoryLimiter is a fixed-window limiter local to one process.
type MemoryLimiter struct {
	counters *gocache.Cache
	limit    int64
	window   time.Duration
	now      func() time.Time
}

// NewMemoryLimiter allows limit hits per key per window.
func NewMemoryLimiter(limit int, window time.Duration) (*MemoryLimiter, error) {
	if limit < 1 || window <= 0 {
		return nil, oops.Code("RATELIMIT_CONFIG_INVALID").
			With("limit", limit).
			With("window", window.String()).
			Errorf("limit and window must be positive")
	}
	return &MemoryLimiter{
		counters: gocache.New(window, 2*window),
		limit:    int64(limit),
		window:   window,
		now:      time.Now,
	}, nil
}

// Allow records a hit for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	w := currentWindow("", key, l.window, l.now())

	// Add only succeeds for the first hit of a window; later hits
	// increment. The loop covers an entry expiring between the two calls.
	for range 2 {
		if err := l.counters.Add(w.key, int64(1), l.window); err == nil {
			return result(1, l.limit, w.remaining), nil
		}
		hits, err := l.counters.IncrementInt64(w.key, 1)
		if err == nil {
			return result(hits, l.limit, w.remaining), nil
		}
	}
	return Result{}, oops.Code("RATELIMIT_BACKEND_FAILED").
		With("backend", "memory").
		With("operation", "incr window").
		Errorf("window counter vanished during increment")
}

var _ Limiter = (*MemoryLimiter)(nil)
