// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package auth is the credential and session lifecycle engine.
//
// # Primitives
//
//   - PasswordHasher / Argon2idHasher - salted argon2id hashing in PHC format
//   - TokenCodec - HS256 access and refresh tokens, one secret per KeyClass
//   - OtpTokenStore - single-use, hashed, expiring tokens for email
//     verification and password reset
//
// # Services
//
//   - SessionManager - login, session checks with transparent refresh, logout
//   - Service - the operations a transport calls, composed from the above
//
// Domain types (User, OtpToken) should be created through NewUser and
// NewOtpToken. Repository implementations receive pre-validated values.
//
// # Session slot
//
// Each user has exactly one session slot holding the current refresh
// token and the access token last issued from it. A new login overwrites
// both, so every earlier session fails its next check. Logout empties the
// slot. The refresh token never leaves the server.
//
// # Lockout
//
// LockoutPolicy locks an account after a run of failed logins. A locked
// account fails exactly like a wrong password.
package auth
