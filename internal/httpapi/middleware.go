// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gatekeep/gatekeep/internal/ratelimit"
)

// observe records the route, status and latency of every request.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		if a.metrics != nil {
			a.metrics.RecordHTTPRequest(route, strconv.Itoa(status), elapsed)
		}
		a.logger.DebugContext(r.Context(), "http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// recoverer turns a handler panic into a 500.
func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.ErrorContext(r.Context(), "http handler panic",
					"panic", rec,
					"route", r.URL.Path,
				)
				writeError(w, http.StatusInternalServerError, "internal", msgInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// limit applies l per client address. Limiter failures let the request
// through.
func (a *API) limit(l ratelimit.Limiter, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := name + "|" + clientIP(r)
			res, err := l.Allow(r.Context(), key)
			if err != nil {
				a.logger.WarnContext(r.Context(), "rate limiter unavailable",
					"operation", "rate_limit",
					"limiter", name,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				secs := max(int(math.Ceil(res.RetryAfter.Seconds())), 1)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
