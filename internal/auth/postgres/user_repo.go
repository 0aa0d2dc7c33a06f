// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

const userColumns = `id, email, display_name, password_hash, password_required,
		       email_verified, refresh_token, access_token, failed_attempts,
		       locked_until, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
	now  func() time.Time
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool, now: time.Now}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, display_name, password_hash, password_required,
			email_verified, refresh_token, access_token, failed_attempts,
			locked_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		user.ID.String(),
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		user.PasswordRequired,
		user.EmailVerified,
		user.RefreshToken,
		user.AccessToken,
		user.FailedAttempts,
		user.LockedUntil,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code(auth.CodeUserEmailTaken).
				With("email", user.Email).
				Errorf("email is already registered")
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("email", user.Email).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// UpdateCredential writes the set fields of update in a single statement.
// Setting a password hash also marks the account as password-protected.
// A set IfAccessToken is checked in the same statement's WHERE clause.
func (r *UserRepository) UpdateCredential(ctx context.Context, id ulid.ULID, update auth.CredentialUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			password_hash = COALESCE($2, password_hash),
			password_required = password_required OR $2::text IS NOT NULL,
			refresh_token = COALESCE($3, refresh_token),
			access_token = COALESCE($4, access_token),
			email_verified = COALESCE($5, email_verified),
			failed_attempts = CASE WHEN $6::boolean THEN 0 ELSE failed_attempts END,
			locked_until = CASE WHEN $6::boolean THEN NULL ELSE locked_until END,
			updated_at = $7
		WHERE id = $1 AND ($8::text IS NULL OR access_token = $8)
	`,
		id.String(),
		update.PasswordHash,
		update.RefreshToken,
		update.AccessToken,
		update.EmailVerified,
		update.ResetFailures,
		r.now(),
		update.IfAccessToken,
	)
	if err != nil {
		return oops.Code("USER_UPDATE_CREDENTIAL_FAILED").
			With("operation", "update credential").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	if update.IfAccessToken != nil {
		var exists bool
		err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id.String()).Scan(&exists)
		if err != nil {
			return oops.Code("USER_UPDATE_CREDENTIAL_FAILED").
				With("operation", "check user after conditional update").
				With("id", id.String()).
				Wrap(err)
		}
		if exists {
			return oops.Code("USER_CREDENTIAL_CONFLICT").
				With("id", id.String()).
				Wrap(auth.ErrCredentialConflict)
		}
	}
	return oops.Code("USER_NOT_FOUND").
		With("id", id.String()).
		Wrap(auth.ErrNotFound)
}

// RecordLoginFailure increments the failed login counter and sets the
// lockout once threshold is reached, in one statement so concurrent
// failures are all counted.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID, threshold int, lockUntil time.Time) (auth.LoginFailures, error) {
	var failures auth.LoginFailures
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET
			failed_attempts = failed_attempts + 1,
			locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3::timestamptz ELSE locked_until END,
			updated_at = $4
		WHERE id = $1
		RETURNING failed_attempts, locked_until
	`, id.String(), threshold, lockUntil, r.now()).Scan(&failures.Attempts, &failures.LockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.LoginFailures{}, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return auth.LoginFailures{}, oops.Code("USER_RECORD_LOGIN_FAILURE_FAILED").
			With("operation", "record login failure").
			With("id", id.String()).
			Wrap(err)
	}
	return failures, nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr string
		u     auth.User
	)
	err := row.Scan(
		&idStr,
		&u.Email,
		&u.DisplayName,
		&u.PasswordHash,
		&u.PasswordRequired,
		&u.EmailVerified,
		&u.RefreshToken,
		&u.AccessToken,
		&u.FailedAttempts,
		&u.LockedUntil,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}
	u.ID = id
	return &u, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
