// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxDisplayNameLength bounds the display name stored for a user.
const MaxDisplayNameLength = 64

// User is the server-held identity record the engine reads and updates.
// Email, PasswordHash and PasswordRequired together form the account's
// credential.
type User struct {
	ID               ulid.ULID
	Email            string
	DisplayName      string
	PasswordHash     *string // nil for accounts created through an external identity provider
	PasswordRequired bool
	EmailVerified    bool
	RefreshToken     string // current refresh token; empty when logged out
	AccessToken      string // access token of the live session; empty when logged out
	FailedAttempts   int
	LockedUntil      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasPassword reports whether password login is possible for the user.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Handle returns the opaque identity handle stored in client sessions.
func (u *User) Handle() string {
	return u.ID.String()
}

// NewUser creates a validated User. passwordHash may be nil for accounts
// that never log in with a password.
func NewUser(email, displayName string, passwordHash *string) (*User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, oops.Code(CodeUserInvalid).With("field", "display_name").Errorf("display name cannot be empty")
	}
	if utf8.RuneCountInString(displayName) > MaxDisplayNameLength {
		return nil, oops.Code(CodeUserInvalid).
			With("field", "display_name").
			With("max", MaxDisplayNameLength).
			Errorf("display name must be at most %d characters", MaxDisplayNameLength)
	}
	if passwordHash != nil && *passwordHash == "" {
		return nil, oops.Code(CodeUserInvalid).With("field", "password_hash").Errorf("password hash cannot be empty when provided")
	}

	now := time.Now()
	return &User{
		ID:               ulid.Make(),
		Email:            email,
		DisplayName:      displayName,
		PasswordHash:     passwordHash,
		PasswordRequired: passwordHash != nil,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// NormalizeEmail trims and lower-cases an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare RFC 5322 address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code(CodeUserInvalid).With("field", "email").Errorf("email cannot be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code(CodeUserInvalid).With("field", "email").Errorf("email address is not valid")
	}
	return nil
}

// IsLocked reports whether the account is locked out at now.
func (u *User) IsLocked(now time.Time) bool {
	return IsLockedOut(u.LockedUntil, now)
}

// CredentialUpdate lists the credential fields to change. Nil fields are
// left untouched.
type CredentialUpdate struct {
	PasswordHash  *string
	RefreshToken  *string
	AccessToken   *string
	EmailVerified *bool
	// ResetFailures zeroes the failed login counter and lifts any lockout.
	ResetFailures bool

	// IfAccessToken makes the update conditional: it applies only while
	// the stored access token equals this value. A mismatch fails with
	// ErrCredentialConflict.
	IfAccessToken *string
}

// IsEmpty reports whether the update changes nothing.
func (u CredentialUpdate) IsEmpty() bool {
	return u.PasswordHash == nil && u.RefreshToken == nil && u.AccessToken == nil &&
		u.EmailVerified == nil && !u.ResetFailures
}

// Apply copies the set fields onto user.
func (u CredentialUpdate) Apply(user *User) {
	if u.PasswordHash != nil {
		hash := *u.PasswordHash
		user.PasswordHash = &hash
		user.PasswordRequired = true
	}
	if u.RefreshToken != nil {
		user.RefreshToken = *u.RefreshToken
	}
	if u.AccessToken != nil {
		user.AccessToken = *u.AccessToken
	}
	if u.EmailVerified != nil {
		user.EmailVerified = *u.EmailVerified
	}
	if u.ResetFailures {
		user.FailedAttempts = 0
		user.LockedUntil = nil
	}
}

// LoginFailures is a user's failed login counter after recording a failure.
type LoginFailures struct {
	Attempts    int
	LockedUntil *time.Time
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns a USER_EMAIL_TAKEN error if the
	// email is already registered.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdateCredential writes the set fields of update.
	// Returns ErrNotFound if the user does not exist and
	// ErrCredentialConflict if update.IfAccessToken does not match.
	UpdateCredential(ctx context.Context, id ulid.ULID, update CredentialUpdate) error

	// RecordLoginFailure atomically increments the failed login counter.
	// Once the counter reaches threshold the account is locked until
	// lockUntil. Returns ErrNotFound if the user does not exist.
	RecordLoginFailure(ctx context.Context, id ulid.ULID, threshold int, lockUntil time.Time) (LoginFailures, error)
}
