// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// KeyClass names an independent signing secret. A token signed under one
// class never verifies under another.
type KeyClass string

// Supported key classes.
const (
	KeyClassAccess  KeyClass = "access"
	KeyClassRefresh KeyClass = "refresh"
)

// TokenCodec signs and verifies HS256 bearer tokens.
type TokenCodec struct {
	secrets map[KeyClass][]byte
	issuer  string
	leeway  time.Duration
	now     func() time.Time
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithCodecClock overrides the clock used for issuing and verifying tokens.
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec creates a TokenCodec from the secrets, issuer and leeway in cfg.
func NewTokenCodec(cfg Config, opts ...CodecOption) (*TokenCodec, error) {
	if len(cfg.AccessSecret) < MinSecretLength || len(cfg.RefreshSecret) < MinSecretLength {
		return nil, oops.Code(CodeConfigInvalid).Errorf("signing secrets must be at least %d bytes", MinSecretLength)
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, oops.Code(CodeConfigInvalid).Errorf("access and refresh secrets must differ")
	}

	c := &TokenCodec{
		secrets: map[KeyClass][]byte{
			KeyClassAccess:  cfg.AccessSecret,
			KeyClassRefresh: cfg.RefreshSecret,
		},
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for subject that expires ttl from now.
func (c *TokenCodec) Issue(subject string, ttl time.Duration, class KeyClass) (string, error) {
	secret, ok := c.secrets[class]
	if !ok {
		return "", oops.Code(CodeConfigInvalid).With("key_class", string(class)).Errorf("unknown key class")
	}
	if subject == "" {
		return "", oops.Code("TOKEN_ISSUE_FAILED").Errorf("subject cannot be empty")
	}
	if ttl <= 0 {
		return "", oops.Code("TOKEN_ISSUE_FAILED").With("ttl", ttl.String()).Errorf("ttl must be positive")
	}

	now := c.now()
	claims := jwt.RegisteredClaims{
		ID:        ulid.Make().String(),
		Subject:   subject,
		Issuer:    c.issuer,
		Audience:  jwt.ClaimStrings{string(class)},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").With("key_class", string(class)).Wrap(err)
	}
	return signed, nil
}

// Verify checks the token's signature, key class and expiry and returns
// its subject. Failures are TOKEN_EXPIRED (ErrTokenExpired) or
// TOKEN_INVALID (ErrInvalidSignature, ErrMalformedToken).
func (c *TokenCodec) Verify(token string, class KeyClass) (string, error) {
	secret, ok := c.secrets[class]
	if !ok {
		return "", oops.Code(CodeConfigInvalid).With("key_class", string(class)).Errorf("unknown key class")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(string(class)),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	}, parserOpts...)
	if err != nil {
		return "", classifyTokenError(err, class)
	}

	if claims.Subject == "" {
		return "", oops.Code(CodeTokenInvalid).
			With("key_class", string(class)).
			With("reason", "missing subject").
			Wrap(ErrMalformedToken)
	}
	return claims.Subject, nil
}

// classifyTokenError maps jwt parse errors onto the engine's three
// verification outcomes. Signature problems win over expiry because the
// parser checks the signature first.
func classifyTokenError(err error, class KeyClass) error {
	builder := oops.With("key_class", string(class)).With("reason", err.Error())
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return builder.Code(CodeTokenInvalid).Wrap(ErrMalformedToken)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return builder.Code(CodeTokenInvalid).Wrap(ErrInvalidSignature)
	case errors.Is(err, jwt.ErrTokenExpired):
		return builder.Code(CodeTokenExpired).Wrap(ErrTokenExpired)
	default:
		return builder.Code(CodeTokenInvalid).Wrap(ErrInvalidSignature)
	}
}
