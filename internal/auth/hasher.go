// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time      uint32 // iterations
	MemoryKiB uint32
	Threads   uint8
	SaltLen   uint32 // bytes
	KeyLen    uint32 // bytes
}

// DefaultArgon2Params returns the OWASP-recommended argon2id parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:      1,
		MemoryKiB: 64 * 1024,
		Threads:   4,
		SaltLen:   16,
		KeyLen:    32,
	}
}

// Validate rejects parameters argon2 cannot run with.
func (p Argon2Params) Validate() error {
	switch {
	case p.Time == 0:
		return oops.Code(CodeConfigInvalid).With("field", "argon2.time").Errorf("argon2 time must be at least 1")
	case p.Threads == 0:
		return oops.Code(CodeConfigInvalid).With("field", "argon2.threads").Errorf("argon2 threads must be at least 1")
	case p.MemoryKiB < 8*uint32(p.Threads):
		return oops.Code(CodeConfigInvalid).
			With("field", "argon2.memory_kib").
			Errorf("argon2 memory must be at least 8 KiB per thread")
	case p.SaltLen < 8:
		return oops.Code(CodeConfigInvalid).With("field", "argon2.salt_len").Errorf("argon2 salt must be at least 8 bytes")
	case p.KeyLen < 16:
		return oops.Code(CodeConfigInvalid).With("field", "argon2.key_len").Errorf("argon2 key must be at least 16 bytes")
	}
	return nil
}

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code(CodeEmptyPassword).Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted argon2id hash of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(password, hash string) (bool, error)

	// NeedsUpgrade returns true if the hash should be recomputed with the
	// current parameters.
	NeedsUpgrade(hash string) bool
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates an Argon2idHasher with the default parameters.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{params: DefaultArgon2Params()}
}

// NewArgon2idHasherWithParams creates an Argon2idHasher with explicit cost parameters.
func NewArgon2idHasherWithParams(params Argon2Params) (*Argon2idHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{params: params}, nil
}

// Hash produces an argon2id hash of the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	hash := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// encodedHash is a parsed PHC argon2id string.
type encodedHash struct {
	version int
	memory  uint32
	time    uint32
	threads uint32
	salt    []byte
	key     []byte
}

func parseEncodedHash(encoded string) (*encodedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, oops.Code(CodeInvalidHash).Errorf("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return nil, oops.Code(CodeInvalidHash).Errorf("unsupported hash algorithm: %s", parts[1])
	}

	e := &encodedHash{}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &e.version); err != nil {
		return nil, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if e.version != argon2.Version {
		return nil, oops.Code(CodeInvalidHash).Errorf("unsupported argon2 version: %d", e.version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &e.memory, &e.time, &e.threads); err != nil {
		return nil, oops.Code(CodeInvalidHash).Wrap(err)
	}

	var err error
	if e.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if e.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, oops.Code(CodeInvalidHash).Wrap(err)
	}

	// threads must fit in uint8 to avoid silent truncation
	if e.threads == 0 || e.threads > 255 {
		return nil, oops.Code(CodeInvalidHash).Errorf("threads value %d out of range", e.threads)
	}
	if e.time == 0 {
		return nil, oops.Code(CodeInvalidHash).Errorf("time parameter cannot be zero")
	}
	if keyLen := len(e.key); keyLen == 0 || keyLen > 1<<30 {
		return nil, oops.Code(CodeInvalidHash).Errorf("invalid hash key length: %d", keyLen)
	}
	return e, nil
}

// Verify checks if the password matches the hash.
func (h *Argon2idHasher) Verify(password, encoded string) (bool, error) {
	e, err := parseEncodedHash(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), e.salt, e.time, e.memory, uint8(e.threads), uint32(len(e.key)))

	return subtle.ConstantTimeCompare(computed, e.key) == 1, nil
}

// NeedsUpgrade returns true if the hash is not argon2id or was produced
// with different cost parameters than the hasher's.
func (h *Argon2idHasher) NeedsUpgrade(encoded string) bool {
	e, err := parseEncodedHash(encoded)
	if err != nil {
		return true
	}
	return e.memory != h.params.MemoryKiB ||
		e.time != h.params.Time ||
		e.threads != uint32(h.params.Threads) ||
		uint32(len(e.key)) != h.params.KeyLen
}

// dummyHash returns a well-formed hash that never matches any password.
// Login verifies against it when the account is missing or has no
// password so that every path pays the same hashing cost.
func dummyHash(p Argon2Params) string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.MemoryKiB,
		p.Time,
		p.Threads,
		base64.RawStdEncoding.EncodeToString(make([]byte, p.SaltLen)),
		base64.RawStdEncoding.EncodeToString(make([]byte, p.KeyLen)),
	)
}

var _ PasswordHasher = (*Argon2idHasher)(nil)
