// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package postgres

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// OtpTokenRepository implements auth.OtpTokenRepository using PostgreSQL.
type OtpTokenRepository struct {
	pool poolIface
}

// NewOtpTokenRepository creates a new OtpTokenRepository.
func NewOtpTokenRepository(pool poolIface) *OtpTokenRepository {
	return &OtpTokenRepository{pool: pool}
}

// Create stores a new token.
func (r *OtpTokenRepository) Create(ctx context.Context, token *auth.OtpToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO otp_tokens (id, user_id, purpose, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		token.ID.String(),
		token.UserID.String(),
		string(token.Purpose),
		token.TokenHash,
		token.CreatedAt,
		token.ExpiresAt,
	)
	if err != nil {
		return oops.Code("OTP_CREATE_FAILED").
			With("operation", "insert otp token").
			With("user_id", token.UserID.String()).
			With("purpose", string(token.Purpose)).
			Wrap(err)
	}
	return nil
}

// FindActive returns the outstanding tokens for a user and purpose,
// oldest first.
func (r *OtpTokenRepository) FindActive(ctx context.Context, userID ulid.ULID, purpose auth.OtpPurpose) ([]*auth.OtpToken, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, purpose, token_hash, created_at, expires_at
		FROM otp_tokens
		WHERE user_id = $1 AND purpose = $2
		ORDER BY created_at
	`, userID.String(), string(purpose))
	if err != nil {
		return nil, oops.Code("OTP_FIND_FAILED").
			With("operation", "query otp tokens").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var tokens []*auth.OtpToken
	for rows.Next() {
		var (
			idStr, userIDStr, purposeStr string
			tok                          auth.OtpToken
		)
		if err := rows.Scan(&idStr, &userIDStr, &purposeStr, &tok.TokenHash, &tok.CreatedAt, &tok.ExpiresAt); err != nil {
			return nil, oops.Code("OTP_FIND_FAILED").With("operation", "scan otp token").Wrap(err)
		}
		if tok.ID, err = ulid.Parse(idStr); err != nil {
			return nil, oops.Code("OTP_INVALID_ID").With("id", idStr).Wrap(err)
		}
		if tok.UserID, err = ulid.Parse(userIDStr); err != nil {
			return nil, oops.Code("OTP_INVALID_ID").With("user_id", userIDStr).Wrap(err)
		}
		tok.Purpose = auth.OtpPurpose(purposeStr)
		tokens = append(tokens, &tok)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("OTP_FIND_FAILED").With("operation", "iterate otp tokens").Wrap(err)
	}
	return tokens, nil
}

// Delete removes a token. Returns ErrNotFound if it is already gone, which
// is how a concurrent consume of the same token is detected.
func (r *OtpTokenRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM otp_tokens WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("OTP_DELETE_FAILED").
			With("operation", "delete otp token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("OTP_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes every token for a user and purpose.
func (r *OtpTokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID, purpose auth.OtpPurpose) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM otp_tokens WHERE user_id = $1 AND purpose = $2
	`, userID.String(), string(purpose))
	if err != nil {
		return 0, oops.Code("OTP_DELETE_FAILED").
			With("operation", "delete otp tokens by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes tokens whose expiry is at or before now.
func (r *OtpTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM otp_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("OTP_DELETE_FAILED").
			With("operation", "delete expired otp tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.OtpTokenRepository = (*OtpTokenRepository)(nil)
