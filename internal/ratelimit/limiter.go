// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package ratelimit provides fixed-window request limiters backed by
// redis or process memory.
package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Hits       int64
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter counts hits per key within a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// window describes one fixed window for a key.
type window struct {
	key       string
	remaining time.Duration
}

// currentWindow computes the bucket key and time left for key at now.
func currentWindow(prefix, key string, size time.Duration, now time.Time) window {
	start := now.UTC().Truncate(size)
	return window{
		key:       prefix + strings.ReplaceAll(key, " ", "_") + ":" + strconv.FormatInt(start.Unix(), 10),
		remaining: start.Add(size).Sub(now),
	}
}

func result(hits, limit int64, retryAfter time.Duration) Result {
	res := Result{
		Allowed:   hits <= limit,
		Hits:      hits,
		Remaining: max(limit-hits, 0),
	}
	if !res.Allowed {
		res.RetryAfter = retryAfter
	}
	return res
}
