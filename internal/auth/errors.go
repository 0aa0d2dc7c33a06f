// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrCredentialConflict is returned by a conditional credential update
// whose precondition no longer holds.
var ErrCredentialConflict = errors.New("credential changed concurrently")

// Token verification failure reasons. TokenCodec wraps these in
// TOKEN_EXPIRED or TOKEN_INVALID coded errors; match with errors.Is.
var (
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrMalformedToken   = errors.New("token malformed")
)

// OTP consumption failure reasons. Both surface as OTP_NOT_FOUND_OR_EXPIRED.
var (
	ErrOtpNotFound = errors.New("otp token not found")
	ErrOtpExpired  = errors.New("otp token expired")
)

// Error codes shared by the engine and its transports.
const (
	CodeInvalidCredentials   = "AUTH_INVALID_CREDENTIALS"
	CodeAccountHasNoPassword = "AUTH_ACCOUNT_HAS_NO_PASSWORD"
	CodeAccountNotFound      = "AUTH_ACCOUNT_NOT_FOUND"
	CodeEmailAlreadyVerified = "AUTH_EMAIL_ALREADY_VERIFIED"
	CodeEmptyPassword        = "AUTH_EMPTY_PASSWORD"
	CodeInvalidHash          = "AUTH_INVALID_HASH"
	CodeConfigInvalid        = "AUTH_CONFIG_INVALID"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeTokenInvalid         = "TOKEN_INVALID"
	CodeOtpNotFoundOrExpired = "OTP_NOT_FOUND_OR_EXPIRED"
	CodeOtpInvalidArgument   = "OTP_INVALID_ARGUMENT"
	CodeUserEmailTaken       = "USER_EMAIL_TAKEN"
	CodeUserInvalid          = "USER_INVALID"
	CodeSessionStateFailed   = "SESSION_STATE_FAILED"
	CodeNotificationFailed   = "OTP_DELIVERY_FAILED"
	CodeRateLimited          = "RATE_LIMITED"
	CodeDependencyMissing    = "AUTH_DEPENDENCY_MISSING"
)
