// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// OtpTokenBytes is the entropy of a one-time token (64 hex chars).
const OtpTokenBytes = 32

// OtpPurpose scopes a one-time token to a single flow.
type OtpPurpose string

// Supported purposes.
const (
	PurposeVerifyEmail   OtpPurpose = "VERIFY_EMAIL"
	PurposeResetPassword OtpPurpose = "RESET_PASSWORD"
)

// Valid reports whether p is a known purpose.
func (p OtpPurpose) Valid() bool {
	return p == PurposeVerifyEmail || p == PurposeResetPassword
}

// OtpToken is a stored one-time token. Only the hash of the token is kept.
type OtpToken struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Purpose   OtpPurpose
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewOtpToken creates a validated OtpToken.
func NewOtpToken(userID ulid.ULID, purpose OtpPurpose, tokenHash string, createdAt, expiresAt time.Time) (*OtpToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code(CodeOtpInvalidArgument).Errorf("user ID cannot be zero")
	}
	if !purpose.Valid() {
		return nil, oops.Code(CodeOtpInvalidArgument).With("purpose", string(purpose)).Errorf("unknown otp purpose")
	}
	if tokenHash == "" {
		return nil, oops.Code(CodeOtpInvalidArgument).Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(createdAt) {
		return nil, oops.Code(CodeOtpInvalidArgument).Errorf("expiry must be after creation")
	}
	return &OtpToken{
		ID:        ulid.Make(),
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: tokenHash,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// IsExpiredAt returns true if the token is no longer usable at t.
func (o *OtpToken) IsExpiredAt(t time.Time) bool {
	return !t.Before(o.ExpiresAt)
}

// GenerateOtpToken creates a secure random token and its hash.
// The plaintext goes to the user; the hash goes to the database.
func GenerateOtpToken() (token, hash string, err error) {
	tokenBytes := make([]byte, OtpTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("OTP_GENERATE_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(tokenBytes)
	return token, HashOtpToken(token), nil
}

// HashOtpToken computes the hex-encoded SHA256 of a token.
func HashOtpToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyOtpToken checks if the plaintext token matches the stored hash
// in constant time.
func VerifyOtpToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashOtpToken(token)), []byte(hash)) == 1
}

// OtpTokenRepository manages one-time token persistence.
type OtpTokenRepository interface {
	// Create stores a new token.
	Create(ctx context.Context, token *OtpToken) error

	// FindActive returns the unconsumed tokens for a user and purpose,
	// expired ones included.
	FindActive(ctx context.Context, userID ulid.ULID, purpose OtpPurpose) ([]*OtpToken, error)

	// Delete consumes a token. Returns ErrNotFound if it is already gone.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByUser removes every token for a user and purpose.
	DeleteByUser(ctx context.Context, userID ulid.ULID, purpose OtpPurpose) (int64, error)

	// DeleteExpired removes tokens whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
