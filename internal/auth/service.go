// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gatekeep/gatekeep/internal/auth"

// Service is the entry point transports call. It composes the session
// manager and the OTP store and holds no state of its own.
type Service struct {
	sessions *SessionManager
	otps     *OtpTokenStore
	users    UserRepository
	hasher   PasswordHasher
	notifier Notifier
	cfg      Config
	tracer   trace.Tracer
	logger   *slog.Logger
}

// ServiceDeps lists the collaborators of a Service.
type ServiceDeps struct {
	Sessions *SessionManager
	Otps     *OtpTokenStore
	Users    UserRepository
	Hasher   PasswordHasher
	Notifier Notifier
	Logger   *slog.Logger
}

// NewService creates a Service. Logger is optional.
func NewService(deps ServiceDeps, cfg Config) (*Service, error) {
	switch {
	case deps.Sessions == nil:
		return nil, oops.Code(CodeDependencyMissing).Errorf("session manager is required")
	case deps.Otps == nil:
		return nil, oops.Code(CodeDependencyMissing).Errorf("otp token store is required")
	case deps.Users == nil:
		return nil, oops.Code(CodeDependencyMissing).Errorf("user repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code(CodeDependencyMissing).Errorf("password hasher is required")
	case deps.Notifier == nil:
		return nil, oops.Code(CodeDependencyMissing).Errorf("notifier is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions: deps.Sessions,
		otps:     deps.Otps,
		users:    deps.Users,
		hasher:   deps.Hasher,
		notifier: deps.Notifier,
		cfg:      cfg,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}, nil
}

// Login authenticates by email and password.
func (s *Service) Login(ctx context.Context, email, password string) (result *LoginResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer func() { endSpan(span, err) }()

	return s.sessions.Login(ctx, email, password)
}

// Logout ends the user's ability to refresh.
func (s *Service) Logout(ctx context.Context, userID ulid.ULID) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Logout", trace.WithAttributes(attribute.String("user_id", userID.String())))
	defer func() { endSpan(span, err) }()

	return s.sessions.Logout(ctx, userID)
}

// CheckAuthenticated validates sess, refreshing its access token in place
// when needed.
func (s *Service) CheckAuthenticated(ctx context.Context, sess *ClientSession) (ok bool, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.CheckAuthenticated")
	defer func() {
		span.SetAttributes(attribute.Bool("authenticated", ok))
		endSpan(span, err)
	}()

	return s.sessions.CheckAuthenticated(ctx, sess)
}

// RequestEmailVerification issues a VERIFY_EMAIL token for the user and
// hands it to the notifier.
func (s *Service) RequestEmailVerification(ctx context.Context, userID ulid.ULID) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.RequestEmailVerification",
		trace.WithAttributes(attribute.String("user_id", userID.String())))
	defer func() { endSpan(span, err) }()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeAccountNotFound).With("user_id", userID.String()).Wrap(ErrNotFound)
		}
		return oops.Code("AUTH_VERIFY_REQUEST_FAILED").With("operation", "get user by id").Wrap(err)
	}
	if user.EmailVerified {
		return oops.Code(CodeEmailAlreadyVerified).
			With("user_id", userID.String()).
			Errorf("email is already verified")
	}

	return s.issueAndDeliver(ctx, user, PurposeVerifyEmail)
}

// VerifyEmail consumes a VERIFY_EMAIL token and marks the user's email
// as verified.
func (s *Service) VerifyEmail(ctx context.Context, userID ulid.ULID, token string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.VerifyEmail", trace.WithAttributes(attribute.String("user_id", userID.String())))
	defer func() { endSpan(span, err) }()

	if err := s.otps.Consume(ctx, userID, PurposeVerifyEmail, token); err != nil {
		return err
	}

	verified := true
	if err := s.users.UpdateCredential(ctx, userID, CredentialUpdate{EmailVerified: &verified}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeAccountNotFound).With("user_id", userID.String()).Wrap(ErrNotFound)
		}
		return oops.Code("AUTH_VERIFY_EMAIL_FAILED").
			With("operation", "mark email verified").
			With("user_id", userID.String()).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "email verified", "user_id", userID.String())
	return nil
}

// RequestPasswordReset issues a RESET_PASSWORD token for the account
// registered under email. An unknown email succeeds without doing
// anything so callers cannot enumerate accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.RequestPasswordReset")
	defer func() { endSpan(span, err) }()

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return oops.Code("AUTH_RESET_REQUEST_FAILED").With("operation", "get user by email").Wrap(err)
	}

	return s.issueAndDeliver(ctx, user, PurposeResetPassword)
}

// ResetPassword consumes a RESET_PASSWORD token and stores the hash of
// newPassword. The session slot is cleared and any lockout lifted in the
// same write, so every remembered session ends with the reset.
func (s *Service) ResetPassword(ctx context.Context, userID ulid.ULID, token, newPassword string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.ResetPassword", trace.WithAttributes(attribute.String("user_id", userID.String())))
	defer func() { endSpan(span, err) }()

	if newPassword == "" {
		return ErrEmptyPassword
	}

	if err := s.otps.Consume(ctx, userID, PurposeResetPassword, token); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	cleared := ""
	update := CredentialUpdate{
		PasswordHash:  &hash,
		RefreshToken:  &cleared,
		AccessToken:   &cleared,
		ResetFailures: true,
	}
	if err := s.users.UpdateCredential(ctx, userID, update); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeAccountNotFound).With("user_id", userID.String()).Wrap(ErrNotFound)
		}
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "update password").
			With("user_id", userID.String()).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "password reset", "user_id", userID.String())
	return nil
}

func (s *Service) issueAndDeliver(ctx context.Context, user *User, purpose OtpPurpose) error {
	ttl := s.cfg.OtpTTL(purpose)
	token, expiresAt, err := s.otps.Issue(ctx, user.ID, purpose, ttl)
	if err != nil {
		return err
	}

	delivery := OtpDelivery{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Purpose:     purpose,
		Token:       token,
		ExpiresAt:   expiresAt,
	}
	if err := s.notifier.Deliver(ctx, delivery); err != nil {
		return oops.Code(CodeNotificationFailed).
			With("user_id", user.ID.String()).
			With("purpose", string(purpose)).
			Wrap(err)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
