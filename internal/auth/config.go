// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// MinSecretLength is the minimum accepted length of a signing secret in bytes.
const MinSecretLength = 32

// Default lifetimes.
const (
	DefaultAccessTTL        = 15 * time.Minute
	DefaultRefreshTTL       = 30 * 24 * time.Hour
	DefaultVerifyEmailTTL   = 24 * time.Hour
	DefaultResetPasswordTTL = time.Hour
	DefaultIssuer           = "gatekeep"
)

// Config holds every tunable of the engine. It is built once at process
// start and handed to the constructors; nothing in this package reads
// process state on its own.
type Config struct {
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	VerifyEmailTTL   time.Duration
	ResetPasswordTTL time.Duration

	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string

	// Leeway is a grace window applied to token expiry checks. Zero means
	// the server clock is taken as exact.
	Leeway time.Duration

	Argon2 Argon2Params

	// InvalidatePriorOtps deletes outstanding tokens for the same user and
	// purpose whenever a new one is issued.
	InvalidatePriorOtps bool

	// LockoutThreshold consecutive login failures lock an account for
	// LockoutDuration. Zero disables lockout.
	LockoutThreshold int
	LockoutDuration  time.Duration
}

// DefaultConfig returns a Config with default lifetimes and hashing cost.
// Secrets are left empty and must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		AccessTTL:           DefaultAccessTTL,
		RefreshTTL:          DefaultRefreshTTL,
		VerifyEmailTTL:      DefaultVerifyEmailTTL,
		ResetPasswordTTL:    DefaultResetPasswordTTL,
		Issuer:              DefaultIssuer,
		Argon2:              DefaultArgon2Params(),
		InvalidatePriorOtps: true,
		LockoutThreshold:    DefaultLockoutThreshold,
		LockoutDuration:     DefaultLockoutDuration,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.AccessTTL <= 0 {
		return oops.Code(CodeConfigInvalid).With("field", "access_ttl").Errorf("access token TTL must be positive")
	}
	if c.RefreshTTL <= 0 {
		return oops.Code(CodeConfigInvalid).With("field", "refresh_ttl").Errorf("refresh token TTL must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return oops.Code(CodeConfigInvalid).
			With("field", "refresh_ttl").
			Errorf("refresh token TTL (%s) must exceed access token TTL (%s)", c.RefreshTTL, c.AccessTTL)
	}
	if c.VerifyEmailTTL <= 0 {
		return oops.Code(CodeConfigInvalid).With("field", "verify_email_ttl").Errorf("verify email TTL must be positive")
	}
	if c.ResetPasswordTTL <= 0 {
		return oops.Code(CodeConfigInvalid).With("field", "reset_password_ttl").Errorf("reset password TTL must be positive")
	}
	if len(c.AccessSecret) < MinSecretLength {
		return oops.Code(CodeConfigInvalid).
			With("field", "access_secret").
			Errorf("access secret must be at least %d bytes", MinSecretLength)
	}
	if len(c.RefreshSecret) < MinSecretLength {
		return oops.Code(CodeConfigInvalid).
			With("field", "refresh_secret").
			Errorf("refresh secret must be at least %d bytes", MinSecretLength)
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return oops.Code(CodeConfigInvalid).
			With("field", "refresh_secret").
			Errorf("access and refresh secrets must differ")
	}
	if c.Leeway < 0 {
		return oops.Code(CodeConfigInvalid).With("field", "leeway").Errorf("leeway cannot be negative")
	}
	if c.LockoutThreshold < 0 {
		return oops.Code(CodeConfigInvalid).With("field", "lockout_threshold").Errorf("lockout threshold cannot be negative")
	}
	if c.LockoutThreshold > 0 && c.LockoutDuration <= 0 {
		return oops.Code(CodeConfigInvalid).
			With("field", "lockout_duration").
			Errorf("lockout duration must be positive when lockout is enabled")
	}
	if err := c.Argon2.Validate(); err != nil {
		return err
	}
	return nil
}

// Lockout returns the login lockout policy.
func (c Config) Lockout() LockoutPolicy {
	return LockoutPolicy{Threshold: c.LockoutThreshold, Duration: c.LockoutDuration}
}

// OtpTTL returns the configured lifetime for tokens of the given purpose.
func (c Config) OtpTTL(purpose OtpPurpose) time.Duration {
	switch purpose {
	case PurposeVerifyEmail:
		return c.VerifyEmailTTL
	case PurposeResetPassword:
		return c.ResetPasswordTTL
	default:
		return 0
	}
}
