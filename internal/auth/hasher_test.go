// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

func TestHashPassword(t *testing.T) {
	hasher := newTestHasher(t)

	t.Run("produces PHC argon2id hash", func(t *testing.T) {
		hash, err := hasher.Hash("password123")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=64,t=1,p=1$"))
		assert.Len(t, strings.Split(hash, "$"), 6)
	})

	t.Run("same password produces different hashes (salt)", func(t *testing.T) {
		hash1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		hash2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_EMPTY_PASSWORD")
	})
}

func TestVerifyPassword(t *testing.T) {
	hasher := newTestHasher(t)

	t.Run("correct password verifies", func(t *testing.T) {
		hash, err := hasher.Hash("correctpassword")
		require.NoError(t, err)

		ok, err := hasher.Verify("correctpassword", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("incorrect password fails without error", func(t *testing.T) {
		hash, err := hasher.Hash("correctpassword")
		require.NoError(t, err)

		for _, candidate := range []string{"wrongpassword", "correctpasswor", "Correctpassword", ""} {
			ok, err := hasher.Verify(candidate, hash)
			require.NoError(t, err)
			assert.False(t, ok, "candidate %q", candidate)
		}
	})

	t.Run("verifies hashes made with other parameters", func(t *testing.T) {
		other, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{
			Time: 2, MemoryKiB: 128, Threads: 2, SaltLen: 8, KeyLen: 16,
		})
		require.NoError(t, err)
		hash, err := other.Hash("password")
		require.NoError(t, err)

		ok, err := hasher.Verify("password", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	malformed := []struct {
		name    string
		hash    string
		errText string
	}{
		{"not PHC", "not-a-valid-hash", "invalid hash format"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", "unsupported hash algorithm"},
		{"bcrypt", "$2a$10$N9qo8uLOickgx2ZMRZoMyeIvNq.Uf3hE9tQALNP1Qn9sNp5x5x5x5", ""},
		{"invalid version format", "$argon2id$vXX$m=65536,t=1,p=4$c2FsdA$aGFzaA", ""},
		{"unsupported version", "$argon2id$v=16$m=65536,t=1,p=4$c2FsdA$aGFzaA", "unsupported argon2 version"},
		{"invalid parameters", "$argon2id$v=19$invalid$c2FsdA$aGFzaA", ""},
		{"invalid salt base64", "$argon2id$v=19$m=65536,t=1,p=4$!!!invalid!!!$aGFzaA", ""},
		{"invalid hash base64", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!invalid!!!", ""},
		{"threads overflow", "$argon2id$v=19$m=65536,t=1,p=256$c2FsdA$aGFzaA", "threads value"},
		{"zero time", "$argon2id$v=19$m=65536,t=0,p=4$c2FsdA$aGFzaA", "time parameter"},
	}
	for _, tt := range malformed {
		t.Run("malformed hash: "+tt.name, func(t *testing.T) {
			ok, err := hasher.Verify("password", tt.hash)
			require.Error(t, err)
			assert.False(t, ok)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASH")
			if tt.errText != "" {
				assert.Contains(t, err.Error(), tt.errText)
			}
		})
	}
}

func TestNeedsUpgrade(t *testing.T) {
	hasher := newTestHasher(t)

	t.Run("bcrypt hash needs upgrade", func(t *testing.T) {
		assert.True(t, hasher.NeedsUpgrade("$2a$10$N9qo8uLOickgx2ZMRZoMyeIvNq.Uf3hE9tQALNP1Qn9sNp5x5x5x5"))
	})

	t.Run("hash with current parameters does not", func(t *testing.T) {
		hash, err := hasher.Hash("password")
		require.NoError(t, err)
		assert.False(t, hasher.NeedsUpgrade(hash))
	})

	t.Run("hash with different cost does", func(t *testing.T) {
		stronger, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{
			Time: 2, MemoryKiB: 64, Threads: 1, SaltLen: 16, KeyLen: 32,
		})
		require.NoError(t, err)
		hash, err := hasher.Hash("password")
		require.NoError(t, err)
		assert.True(t, stronger.NeedsUpgrade(hash))
	})
}

func TestArgon2Params_Validate(t *testing.T) {
	valid := auth.DefaultArgon2Params()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(p *auth.Argon2Params)
	}{
		{"zero time", func(p *auth.Argon2Params) { p.Time = 0 }},
		{"zero threads", func(p *auth.Argon2Params) { p.Threads = 0 }},
		{"memory below threads floor", func(p *auth.Argon2Params) { p.MemoryKiB = 8; p.Threads = 2 }},
		{"short salt", func(p *auth.Argon2Params) { p.SaltLen = 4 }},
		{"short key", func(p *auth.Argon2Params) { p.KeyLen = 8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := auth.DefaultArgon2Params()
			tt.mutate(&p)
			_, err := auth.NewArgon2idHasherWithParams(p)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "AUTH_CONFIG_INVALID")
		})
	}
}
