// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionManager runs login, session checks with transparent refresh,
// and logout. A session is valid only while its access token verifies
// and the identity it names still matches the server-held user record,
// including the access token the server last issued to that user.
//
// Each user has a single session slot holding one refresh token and one
// access token. Login overwrites both, so the most recent login wins and
// older sessions stop checking as soon as it happens.
type SessionManager struct {
	users      UserRepository
	hasher     PasswordHasher
	codec      *TokenCodec
	accessTTL  time.Duration
	refreshTTL time.Duration
	lockout    LockoutPolicy
	dummyHash  string
	now        func() time.Time
	logger     *slog.Logger
	metrics    Recorder
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionLogger sets the manager's logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSessionRecorder sets the manager's metrics recorder.
func WithSessionRecorder(r Recorder) SessionOption {
	return func(m *SessionManager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithSessionClock overrides the clock used for lockout decisions.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(users UserRepository, hasher PasswordHasher, codec *TokenCodec, cfg Config, opts ...SessionOption) (*SessionManager, error) {
	if users == nil {
		return nil, oops.Code(CodeDependencyMissing).Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code(CodeDependencyMissing).Errorf("password hasher is required")
	}
	if codec == nil {
		return nil, oops.Code(CodeDependencyMissing).Errorf("token codec is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, oops.Code(CodeConfigInvalid).Errorf("token TTLs must be positive")
	}

	m := &SessionManager{
		users:      users,
		hasher:     hasher,
		codec:      codec,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		lockout:    cfg.Lockout(),
		dummyHash:  dummyHash(cfg.Argon2),
		now:        time.Now,
		logger:     slog.Default(),
		metrics:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Login verifies the credentials and issues a fresh access/refresh pair.
// Both tokens replace whatever the user's session slot held before.
//
// A missing account, a wrong password and a locked account produce the
// same AUTH_INVALID_CREDENTIALS error, and all of them pay for a full hash
// verification so they cannot be told apart by timing either.
func (m *SessionManager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, lookupErr := m.users.GetByEmail(ctx, NormalizeEmail(email))

	targetHash := m.dummyHash
	exists, hasPassword := false, false
	switch {
	case lookupErr == nil && user.HasPassword():
		exists, hasPassword = true, true
		targetHash = *user.PasswordHash
	case lookupErr == nil:
		exists = true
	case !errors.Is(lookupErr, ErrNotFound):
		m.metrics.RecordLogin(OutcomeError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	valid, verifyErr := m.hasher.Verify(password, targetHash)
	if verifyErr != nil && hasPassword {
		m.metrics.RecordLogin(OutcomeError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}

	if !exists {
		m.metrics.RecordLogin(OutcomeInvalidCredentials)
		return nil, errInvalidCredentials()
	}
	if !hasPassword {
		m.metrics.RecordLogin(OutcomeNoPassword)
		return nil, oops.Code(CodeAccountHasNoPassword).
			With("user_id", user.ID.String()).
			Errorf("account has no password")
	}
	now := m.now()
	if m.lockout.Enabled() && user.IsLocked(now) {
		m.logger.WarnContext(ctx, "login attempt on locked account",
			"user_id", user.ID.String(),
			"locked_until", *user.LockedUntil,
			"remaining", LockoutRemaining(user.LockedUntil, now),
		)
		m.metrics.RecordLogin(OutcomeLockedOut)
		return nil, errInvalidCredentials()
	}
	if !valid {
		m.recordFailure(ctx, user, now)
		m.metrics.RecordLogin(OutcomeInvalidCredentials)
		return nil, errInvalidCredentials()
	}

	access, err := m.codec.Issue(user.Handle(), m.accessTTL, KeyClassAccess)
	if err != nil {
		m.metrics.RecordLogin(OutcomeError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue access token").Wrap(err)
	}
	refresh, err := m.codec.Issue(user.Handle(), m.refreshTTL, KeyClassRefresh)
	if err != nil {
		m.metrics.RecordLogin(OutcomeError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue refresh token").Wrap(err)
	}

	update := CredentialUpdate{
		RefreshToken:  &refresh,
		AccessToken:   &access,
		ResetFailures: user.FailedAttempts > 0 || user.LockedUntil != nil,
	}
	if m.hasher.NeedsUpgrade(*user.PasswordHash) {
		if upgraded, hashErr := m.hasher.Hash(password); hashErr == nil {
			update.PasswordHash = &upgraded
		} else {
			m.logger.WarnContext(ctx, "best-effort password rehash failed",
				"operation", "rehash_password",
				"user_id", user.ID.String(),
				"error", hashErr,
			)
		}
	}

	if err := m.users.UpdateCredential(ctx, user.ID, update); err != nil {
		m.metrics.RecordLogin(OutcomeError)
		return nil, oops.Code(CodeSessionStateFailed).
			With("operation", "persist session tokens").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	update.Apply(user)

	m.metrics.RecordLogin(OutcomeSuccess)
	m.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.String())

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         summarize(user),
	}, nil
}

// recordFailure counts a wrong password against the account. A failure to
// persist the counter is logged and does not change the login outcome.
func (m *SessionManager) recordFailure(ctx context.Context, user *User, now time.Time) {
	if !m.lockout.Enabled() {
		return
	}
	failures, err := m.users.RecordLoginFailure(ctx, user.ID, m.lockout.Threshold, now.Add(m.lockout.Duration))
	if err != nil {
		m.logger.WarnContext(ctx, "failed to record login failure",
			"operation", "record_login_failure",
			"user_id", user.ID.String(),
			"error", err,
		)
		return
	}
	if IsLockedOut(failures.LockedUntil, now) {
		m.logger.WarnContext(ctx, "account locked after repeated login failures",
			"user_id", user.ID.String(),
			"failed_attempts", failures.Attempts,
			"locked_until", *failures.LockedUntil,
		)
	}
}

// CheckAuthenticated reports whether sess is a live session.
//
// A session whose display name or access token no longer matches the
// server-held record is stale: false is returned and nothing is touched.
// An expired access token is refreshed transparently from the user's
// persisted refresh token; the new access token is persisted and written
// back into sess. When that refresh is impossible the user is logged out
// and false is returned. A forged or corrupted access token returns false
// without touching any state.
//
// Only persistence failures are returned as errors.
func (m *SessionManager) CheckAuthenticated(ctx context.Context, sess *ClientSession) (bool, error) {
	if sess.IsAnonymous() {
		return false, nil
	}

	userID, ok := sess.UserID()
	if !ok {
		m.metrics.RecordSessionCheck(OutcomeStale)
		return false, nil
	}

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.metrics.RecordSessionCheck(OutcomeStale)
			return false, nil
		}
		m.metrics.RecordSessionCheck(OutcomeError)
		return false, oops.Code(CodeSessionStateFailed).
			With("operation", "get user by id").
			With("user_id", userID.String()).
			Wrap(err)
	}

	// The cookie outlived a change to the account, a newer login or a logout.
	if user.DisplayName != sess.DisplayName || !tokensEqual(sess.AccessToken, user.AccessToken) {
		m.logger.DebugContext(ctx, "stale session", "user_id", user.ID.String())
		m.metrics.RecordSessionCheck(OutcomeStale)
		return false, nil
	}

	subject, err := m.codec.Verify(sess.AccessToken, KeyClassAccess)
	switch {
	case err == nil && subject == user.Handle():
		m.metrics.RecordSessionCheck(OutcomeSuccess)
		return true, nil
	case err == nil:
		m.logger.WarnContext(ctx, "access token subject does not match session",
			"user_id", user.ID.String(),
			"subject", subject,
		)
		m.metrics.RecordSessionCheck(OutcomeInvalid)
		return false, nil
	case !errors.Is(err, ErrTokenExpired):
		m.logger.DebugContext(ctx, "access token rejected", "user_id", user.ID.String(), "error", err)
		m.metrics.RecordSessionCheck(OutcomeInvalid)
		return false, nil
	}

	return m.refresh(ctx, user, sess)
}

func (m *SessionManager) refresh(ctx context.Context, user *User, sess *ClientSession) (bool, error) {
	presented := sess.AccessToken

	if reason := m.refreshRejection(user); reason != "" {
		m.logger.InfoContext(ctx, "session refresh failed, logging out",
			"user_id", user.ID.String(),
			"reason", reason,
		)
		err := m.clearSession(ctx, user.ID, &presented)
		switch {
		case errors.Is(err, ErrCredentialConflict):
			// Another login took the slot meanwhile; leave it alone.
			m.metrics.RecordSessionCheck(OutcomeStale)
			return false, nil
		case err != nil:
			m.metrics.RecordSessionCheck(OutcomeError)
			return false, err
		}
		m.metrics.RecordSessionCheck(OutcomeLoggedOut)
		return false, nil
	}

	access, err := m.codec.Issue(user.Handle(), m.accessTTL, KeyClassAccess)
	if err != nil {
		m.metrics.RecordSessionCheck(OutcomeError)
		return false, oops.Code(CodeSessionStateFailed).With("operation", "issue access token").Wrap(err)
	}

	err = m.users.UpdateCredential(ctx, user.ID, CredentialUpdate{
		AccessToken:   &access,
		IfAccessToken: &presented,
	})
	if errors.Is(err, ErrCredentialConflict) {
		return m.adoptConcurrentRefresh(ctx, user, sess)
	}
	if err != nil {
		m.metrics.RecordSessionCheck(OutcomeError)
		return false, oops.Code(CodeSessionStateFailed).
			With("operation", "persist access token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	sess.AccessToken = access

	m.metrics.RecordSessionCheck(OutcomeRefreshed)
	m.logger.DebugContext(ctx, "access token refreshed", "user_id", user.ID.String())
	return true, nil
}

// adoptConcurrentRefresh handles losing a refresh race. When the winner
// refreshed the same session (the refresh slot is unchanged) its access
// token is handed to sess as well. Anything else means the session was
// superseded and is reported stale.
func (m *SessionManager) adoptConcurrentRefresh(ctx context.Context, user *User, sess *ClientSession) (bool, error) {
	current, err := m.users.GetByID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.metrics.RecordSessionCheck(OutcomeStale)
			return false, nil
		}
		m.metrics.RecordSessionCheck(OutcomeError)
		return false, oops.Code(CodeSessionStateFailed).
			With("operation", "reload user after refresh conflict").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if current.RefreshToken == "" || !tokensEqual(current.RefreshToken, user.RefreshToken) {
		m.metrics.RecordSessionCheck(OutcomeStale)
		return false, nil
	}
	subject, err := m.codec.Verify(current.AccessToken, KeyClassAccess)
	if err != nil || subject != current.Handle() {
		m.metrics.RecordSessionCheck(OutcomeStale)
		return false, nil
	}

	sess.AccessToken = current.AccessToken
	m.metrics.RecordSessionCheck(OutcomeRefreshed)
	m.logger.DebugContext(ctx, "adopted concurrently refreshed access token", "user_id", user.ID.String())
	return true, nil
}

// refreshRejection returns why the user's persisted refresh token cannot
// be used, or "" when it can.
func (m *SessionManager) refreshRejection(user *User) string {
	if user.RefreshToken == "" {
		return "no refresh token"
	}
	subject, err := m.codec.Verify(user.RefreshToken, KeyClassRefresh)
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "refresh token expired"
	case err != nil:
		return "refresh token invalid"
	case subject != user.Handle():
		return "refresh token subject mismatch"
	}
	return ""
}

// Logout empties the user's session slot. No further refresh is possible
// and the access token last issued no longer checks.
func (m *SessionManager) Logout(ctx context.Context, userID ulid.ULID) error {
	return m.clearSession(ctx, userID, nil)
}

func (m *SessionManager) clearSession(ctx context.Context, userID ulid.ULID, ifAccess *string) error {
	empty := ""
	err := m.users.UpdateCredential(ctx, userID, CredentialUpdate{
		RefreshToken:  &empty,
		AccessToken:   &empty,
		IfAccessToken: ifAccess,
	})
	if err != nil {
		if errors.Is(err, ErrCredentialConflict) {
			return err
		}
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeAccountNotFound).
				With("user_id", userID.String()).
				Wrap(ErrNotFound)
		}
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "clear session tokens").
			With("user_id", userID.String()).
			Wrap(err)
	}
	m.logger.InfoContext(ctx, "user logged out", "user_id", userID.String())
	return nil
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func errInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}
