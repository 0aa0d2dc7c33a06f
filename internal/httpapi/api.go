// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package httpapi exposes the auth engine over HTTP with cookie sessions.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/ratelimit"
)

// AuthService is the engine surface the API drives. *auth.Service
// implements it.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, userID ulid.ULID) error
	CheckAuthenticated(ctx context.Context, sess *auth.ClientSession) (bool, error)
	RequestEmailVerification(ctx context.Context, userID ulid.ULID) error
	VerifyEmail(ctx context.Context, userID ulid.ULID, token string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, userID ulid.ULID, token, newPassword string) error
}

var _ AuthService = (*auth.Service)(nil)

// Recorder counts finished requests.
type Recorder interface {
	RecordHTTPRequest(route, status string, elapsed time.Duration)
}

// Deps are the collaborators of the API. Service is required.
type Deps struct {
	Service AuthService
	// LoginLimiter guards POST /auth/login. Nil disables limiting.
	LoginLimiter ratelimit.Limiter
	// RequestLimiter guards the endpoints that send mail. Nil disables limiting.
	RequestLimiter ratelimit.Limiter
	Metrics        Recorder
	Logger         *slog.Logger
}

// Options tune the transport.
type Options struct {
	Cookies CookieOptions
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that sets these headers.
	TrustProxy bool
	// MaxBodyBytes bounds request bodies. Zero uses 64 KiB.
	MaxBodyBytes int64
}

// API holds the HTTP handlers.
type API struct {
	svc            AuthService
	loginLimiter   ratelimit.Limiter
	requestLimiter ratelimit.Limiter
	metrics        Recorder
	logger         *slog.Logger
	cookies        CookieOptions
	maxBody        int64
}

// New creates an API.
func New(deps Deps, opts Options) *API {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 64 << 10
	}
	return &API{
		svc:            deps.Service,
		loginLimiter:   deps.LoginLimiter,
		requestLimiter: deps.RequestLimiter,
		metrics:        deps.Metrics,
		logger:         logger,
		cookies:        opts.Cookies.withDefaults(),
		maxBody:        maxBody,
	}
}

// Router returns the routed handler.
func (a *API) Router(trustProxy bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(a.recoverer)
	r.Use(a.observe)

	r.Route("/auth", func(r chi.Router) {
		r.With(a.limit(a.loginLimiter, "login")).Post("/login", a.handleLogin)
		r.Post("/logout", a.handleLogout)
		r.Get("/session", a.handleSession)

		r.With(a.limit(a.requestLimiter, "email_verification")).Post("/email/verification", a.handleRequestVerification)
		r.Post("/email/verify", a.handleVerifyEmail)

		r.With(a.limit(a.requestLimiter, "password_forgot")).Post("/password/forgot", a.handleForgotPassword)
		r.Post("/password/reset", a.handleResetPassword)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return otelhttp.NewHandler(r, "gatekeep.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// NewHandler is New(deps, opts).Router(opts.TrustProxy).
func NewHandler(deps Deps, opts Options) http.Handler {
	return New(deps, opts).Router(opts.TrustProxy)
}
