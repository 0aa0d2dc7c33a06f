// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// cheapArgon2 keeps hashing fast in tests.
var cheapArgon2 = auth.Argon2Params{Time: 1, MemoryKiB: 64, Threads: 1, SaltLen: 16, KeyLen: 32}

func newTestHasher(t *testing.T) *auth.Argon2idHasher {
	t.Helper()
	h, err := auth.NewArgon2idHasherWithParams(cheapArgon2)
	require.NoError(t, err)
	return h
}

func testConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.AccessSecret = []byte("access-secret-access-secret-0123456789")
	cfg.RefreshSecret = []byte("refresh-secret-refresh-secret-0123456789")
	cfg.AccessTTL = time.Minute
	cfg.RefreshTTL = time.Hour
	cfg.Argon2 = cheapArgon2
	return cfg
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memUserRepo is an in-memory auth.UserRepository.
type memUserRepo struct {
	mu      sync.Mutex
	users   map[ulid.ULID]*auth.User
	updates int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[ulid.ULID]*auth.User)}
}

func (r *memUserRepo) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return oops.Code(auth.CodeUserEmailTaken).Errorf("email already registered")
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
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

func (r *memUserRepo) UpdateCredential(_ context.Context, id ulid.ULID, update auth.CredentialUpdate) error {
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
	r.updates++
	return nil
}

func (r *memUserRepo) RecordLoginFailure(_ context.Context, id ulid.ULID, threshold int, lockUntil time.Time) (auth.LoginFailures, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return auth.LoginFailures{}, auth.ErrNotFound
	}
	u.FailedAttempts++
	if u.FailedAttempts >= threshold {
		until := lockUntil
		u.LockedUntil = &until
	}
	r.updates++
	return auth.LoginFailures{Attempts: u.FailedAttempts, LockedUntil: u.LockedUntil}, nil
}

func (r *memUserRepo) get(t *testing.T, id ulid.ULID) *auth.User {
	t.Helper()
	u, err := r.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

// seedUser stores a user with the given password (empty for none).
func (r *memUserRepo) seedUser(t *testing.T, hasher auth.PasswordHasher, email, displayName, password string) *auth.User {
	t.Helper()
	var hash *string
	if password != "" {
		h, err := hasher.Hash(password)
		require.NoError(t, err)
		hash = &h
	}
	u, err := auth.NewUser(email, displayName, hash)
	require.NoError(t, err)
	require.NoError(t, r.Create(context.Background(), u))
	return u
}

// memOtpRepo is an in-memory auth.OtpTokenRepository.
type memOtpRepo struct {
	mu     sync.Mutex
	tokens map[ulid.ULID]*auth.OtpToken
}

func newMemOtpRepo() *memOtpRepo {
	return &memOtpRepo{tokens: make(map[ulid.ULID]*auth.OtpToken)}
}

func (r *memOtpRepo) Create(_ context.Context, token *auth.OtpToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *token
	r.tokens[token.ID] = &cp
	return nil
}

func (r *memOtpRepo) FindActive(_ context.Context, userID ulid.ULID, purpose auth.OtpPurpose) ([]*auth.OtpToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*auth.OtpToken
	for _, tok := range r.tokens {
		if tok.UserID == userID && tok.Purpose == purpose {
			cp := *tok
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memOtpRepo) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.tokens, id)
	return nil
}

func (r *memOtpRepo) DeleteByUser(_ context.Context, userID ulid.ULID, purpose auth.OtpPurpose) (int64, error) {
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

func (r *memOtpRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
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

func (r *memOtpRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func (r *memOtpRepo) all() []auth.OtpToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.OtpToken, 0, len(r.tokens))
	for _, tok := range r.tokens {
		out = append(out, *tok)
	}
	return out
}

// captureNotifier records deliveries.
type captureNotifier struct {
	mu         sync.Mutex
	deliveries []auth.OtpDelivery
	err        error
}

func (n *captureNotifier) Deliver(_ context.Context, d auth.OtpDelivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.deliveries = append(n.deliveries, d)
	return nil
}

func (n *captureNotifier) last(t *testing.T) auth.OtpDelivery {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.deliveries, "expected a delivery")
	return n.deliveries[len(n.deliveries)-1]
}

// countingRecorder tallies recorder calls by label.
type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{counts: make(map[string]int)}
}

func (r *countingRecorder) RecordLogin(outcome string) { r.inc("login:" + outcome) }

func (r *countingRecorder) RecordSessionCheck(outcome string) { r.inc("check:" + outcome) }

func (r *countingRecorder) RecordOtp(purpose auth.OtpPurpose, operation, outcome string) {
	r.inc("otp:" + string(purpose) + ":" + operation + ":" + outcome)
}

func (r *countingRecorder) inc(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[key]++
}

func (r *countingRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

// harness wires the engine over in-memory collaborators.
type harness struct {
	cfg      auth.Config
	clock    *fakeClock
	hasher   *auth.Argon2idHasher
	codec    *auth.TokenCodec
	users    *memUserRepo
	otpRepo  *memOtpRepo
	otps     *auth.OtpTokenStore
	sessions *auth.SessionManager
	notifier *captureNotifier
	metrics  *countingRecorder
	svc      *auth.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		cfg:      testConfig(),
		clock:    newFakeClock(),
		hasher:   newTestHasher(t),
		users:    newMemUserRepo(),
		otpRepo:  newMemOtpRepo(),
		notifier: &captureNotifier{},
		metrics:  newCountingRecorder(),
	}

	var err error
	h.codec, err = auth.NewTokenCodec(h.cfg, auth.WithCodecClock(h.clock.Now))
	require.NoError(t, err)

	h.otps, err = auth.NewOtpTokenStore(h.otpRepo, h.cfg.InvalidatePriorOtps,
		auth.WithOtpClock(h.clock.Now), auth.WithOtpRecorder(h.metrics))
	require.NoError(t, err)

	h.sessions, err = auth.NewSessionManager(h.users, h.hasher, h.codec, h.cfg,
		auth.WithSessionRecorder(h.metrics), auth.WithSessionClock(h.clock.Now))
	require.NoError(t, err)

	h.svc, err = auth.NewService(auth.ServiceDeps{
		Sessions: h.sessions,
		Otps:     h.otps,
		Users:    h.users,
		Hasher:   h.hasher,
		Notifier: h.notifier,
	}, h.cfg)
	require.NoError(t, err)
	return h
}
