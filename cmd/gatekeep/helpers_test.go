// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gatekeep/gatekeep/internal/auth"
)

const (
	testAccessSecret  = "access-secret-0123456789abcdefghijklmnopq"
	testRefreshSecret = "refresh-secret-0123456789abcdefghijklmnop"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("GATEKEEP_AUTH__ARGON2__MEMORY_KIB", "1024")

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testAuthConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.AccessSecret = []byte(testAccessSecret)
	cfg.RefreshSecret = []byte(testRefreshSecret)
	cfg.Argon2 = auth.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}
	return cfg
}

type memUsers struct {
	mu    sync.Mutex
	users map[ulid.ULID]*auth.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[ulid.ULID]*auth.User)}
}

func (r *memUsers) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUsers) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUsers) UpdateCredential(_ context.Context, id ulid.ULID, update auth.CredentialUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	if update.IfAccessToken != nil && *update.IfAccessToken != u.AccessToken {
		return auth.ErrCredentialConflict
	}
	update.Apply(u)
	return nil
}

func (r *memUsers) RecordLoginFailure(_ context.Context, id ulid.ULID, threshold int, lockUntil time.Time) (auth.LoginFailures, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return auth.LoginFailures{}, auth.ErrNotFound
	}
	u.FailedAttempts++
	if u.FailedAttempts >= threshold {
		u.LockedUntil = &lockUntil
	}
	return auth.LoginFailures{Attempts: u.FailedAttempts, LockedUntil: u.LockedUntil}, nil
}

type memOtps struct {
	mu     sync.Mutex
	tokens map[ulid.ULID]*auth.OtpToken
}

func newMemOtps() *memOtps {
	return &memOtps{tokens: make(map[ulid.ULID]*auth.OtpToken)}
}

func (r *memOtps) Create(_ context.Context, token *auth.OtpToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *token
	r.tokens[token.ID] = &cp
	return nil
}

func (r *memOtps) FindActive(_ context.Context, userID ulid.ULID, purpose auth.OtpPurpose) ([]*auth.OtpToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*auth.OtpToken
	for _, tok := range r.tokens {
		if tok.UserID == userID && tok.Purpose == purpose {
			cp := *tok
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memOtps) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.tokens, id)
	return nil
}

func (r *memOtps) DeleteByUser(_ context.Context, userID ulid.ULID, purpose auth.OtpPurpose) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, tok := range r.tokens {
		if tok.UserID == userID && tok.Purpose == purpose {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

func (r *memOtps) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, tok := range r.tokens {
		if !tok.ExpiresAt.After(now) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

type captureNotifier struct {
	mu         sync.Mutex
	deliveries []auth.OtpDelivery
}

func (n *captureNotifier) Deliver(_ context.Context, d auth.OtpDelivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, d)
	return nil
}

func (n *captureNotifier) last() auth.OtpDelivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deliveries[len(n.deliveries)-1]
}
