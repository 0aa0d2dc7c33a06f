// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// OtpTokenStore issues and consumes single-use, hashed, expiring tokens.
type OtpTokenStore struct {
	repo            OtpTokenRepository
	invalidatePrior bool
	now             func() time.Time
	logger          *slog.Logger
	metrics         Recorder
}

// OtpStoreOption configures an OtpTokenStore.
type OtpStoreOption func(*OtpTokenStore)

// WithOtpClock overrides the store's clock.
func WithOtpClock(now func() time.Time) OtpStoreOption {
	return func(s *OtpTokenStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOtpLogger sets the store's logger.
func WithOtpLogger(logger *slog.Logger) OtpStoreOption {
	return func(s *OtpTokenStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOtpRecorder sets the store's metrics recorder.
func WithOtpRecorder(r Recorder) OtpStoreOption {
	return func(s *OtpTokenStore) {
		if r != nil {
			s.metrics = r
		}
	}
}

// NewOtpTokenStore creates an OtpTokenStore. When invalidatePrior is set,
// issuing a token deletes any outstanding token for the same user and purpose.
func NewOtpTokenStore(repo OtpTokenRepository, invalidatePrior bool, opts ...OtpStoreOption) (*OtpTokenStore, error) {
	if repo == nil {
		return nil, oops.Code(CodeDependencyMissing).Errorf("otp token repository is required")
	}
	s := &OtpTokenStore{
		repo:            repo,
		invalidatePrior: invalidatePrior,
		now:             time.Now,
		logger:          slog.Default(),
		metrics:         nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue creates a token for userID and purpose valid for ttl and returns
// the plaintext with the stored expiry. The plaintext is not retrievable
// afterwards.
func (s *OtpTokenStore) Issue(ctx context.Context, userID ulid.ULID, purpose OtpPurpose, ttl time.Duration) (string, time.Time, error) {
	if err := checkOtpArgs(userID, purpose); err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		return "", time.Time{}, oops.Code(CodeOtpInvalidArgument).With("ttl", ttl.String()).Errorf("ttl must be positive")
	}

	if s.invalidatePrior {
		removed, err := s.repo.DeleteByUser(ctx, userID, purpose)
		if err != nil {
			s.metrics.RecordOtp(purpose, "issue", OutcomeError)
			return "", time.Time{}, oops.Code("OTP_ISSUE_FAILED").
				With("operation", "invalidate prior tokens").
				With("user_id", userID.String()).
				With("purpose", string(purpose)).
				Wrap(err)
		}
		if removed > 0 {
			s.logger.DebugContext(ctx, "invalidated prior otp tokens",
				"user_id", userID.String(),
				"purpose", string(purpose),
				"count", removed,
			)
		}
	}

	token, hash, err := GenerateOtpToken()
	if err != nil {
		s.metrics.RecordOtp(purpose, "issue", OutcomeError)
		return "", time.Time{}, err
	}

	now := s.now()
	record, err := NewOtpToken(userID, purpose, hash, now, now.Add(ttl))
	if err != nil {
		return "", time.Time{}, err
	}

	if err := s.repo.Create(ctx, record); err != nil {
		s.metrics.RecordOtp(purpose, "issue", OutcomeError)
		return "", time.Time{}, oops.Code("OTP_ISSUE_FAILED").
			With("operation", "create token").
			With("user_id", userID.String()).
			With("purpose", string(purpose)).
			Wrap(err)
	}

	s.metrics.RecordOtp(purpose, "issue", OutcomeSuccess)
	return token, record.ExpiresAt, nil
}

// Consume validates token against the outstanding tokens for userID and
// purpose and deletes it on success. Every expected failure carries the
// OTP_NOT_FOUND_OR_EXPIRED code and wraps ErrOtpNotFound or ErrOtpExpired.
func (s *OtpTokenStore) Consume(ctx context.Context, userID ulid.ULID, purpose OtpPurpose, token string) error {
	if err := checkOtpArgs(userID, purpose); err != nil {
		return err
	}
	if token == "" {
		s.metrics.RecordOtp(purpose, "consume", OutcomeRejected)
		return otpFailure(ErrOtpNotFound, userID, purpose)
	}

	candidates, err := s.repo.FindActive(ctx, userID, purpose)
	if err != nil {
		s.metrics.RecordOtp(purpose, "consume", OutcomeError)
		return oops.Code("OTP_CONSUME_FAILED").
			With("operation", "find active tokens").
			With("user_id", userID.String()).
			With("purpose", string(purpose)).
			Wrap(err)
	}

	// Compare against every candidate so the time taken does not depend
	// on which one matched.
	var match *OtpToken
	for _, c := range candidates {
		if VerifyOtpToken(token, c.TokenHash) && match == nil {
			match = c
		}
	}
	if match == nil {
		s.metrics.RecordOtp(purpose, "consume", OutcomeRejected)
		return otpFailure(ErrOtpNotFound, userID, purpose)
	}

	if match.IsExpiredAt(s.now()) {
		if err := s.repo.Delete(ctx, match.ID); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.WarnContext(ctx, "best-effort delete of expired otp token failed",
				"operation", "delete_expired_token",
				"token_id", match.ID.String(),
				"error", err,
			)
		}
		s.metrics.RecordOtp(purpose, "consume", OutcomeRejected)
		return otpFailure(ErrOtpExpired, userID, purpose)
	}

	if err := s.repo.Delete(ctx, match.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			// A concurrent consume won the race.
			s.metrics.RecordOtp(purpose, "consume", OutcomeRejected)
			return otpFailure(ErrOtpNotFound, userID, purpose)
		}
		s.metrics.RecordOtp(purpose, "consume", OutcomeError)
		return oops.Code("OTP_CONSUME_FAILED").
			With("operation", "delete token").
			With("token_id", match.ID.String()).
			Wrap(err)
	}

	s.metrics.RecordOtp(purpose, "consume", OutcomeSuccess)
	return nil
}

// PruneExpired removes expired tokens and returns how many were deleted.
func (s *OtpTokenStore) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, oops.Code("OTP_PRUNE_FAILED").With("operation", "delete expired tokens").Wrap(err)
	}
	return n, nil
}

func checkOtpArgs(userID ulid.ULID, purpose OtpPurpose) error {
	if userID.Compare(ulid.ULID{}) == 0 {
		return oops.Code(CodeOtpInvalidArgument).Errorf("user ID cannot be zero")
	}
	if !purpose.Valid() {
		return oops.Code(CodeOtpInvalidArgument).With("purpose", string(purpose)).Errorf("unknown otp purpose")
	}
	return nil
}

func otpFailure(reason error, userID ulid.ULID, purpose OtpPurpose) error {
	return oops.Code(CodeOtpNotFoundOrExpired).
		With("user_id", userID.String()).
		With("purpose", string(purpose)).
		Wrap(reason)
}
