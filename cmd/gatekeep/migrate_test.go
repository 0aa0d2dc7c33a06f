// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/store"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

const testDatabaseURL = "postgres://gk:pw@localhost:5432/gatekeep"

type fakeMigrator struct {
	calls  []string
	steps  int
	forced int
	status *store.MigrationStatus
	err    error
	closed bool
}

func (m *fakeMigrator) Up() error {
	m.calls = append(m.calls, "up")
	return m.err
}

func (m *fakeMigrator) Down() error {
	m.calls = append(m.calls, "down")
	return m.err
}

func (m *fakeMigrator) Steps(n int) error {
	m.calls = append(m.calls, "steps")
	m.steps = n
	return m.err
}

func (m *fakeMigrator) Force(v int) error {
	m.calls = append(m.calls, "force")
	m.forced = v
	return m.err
}

func (m *fakeMigrator) Status() (*store.MigrationStatus, error) {
	m.calls = append(m.calls, "status")
	return m.status, m.err
}

func (m *fakeMigrator) Close() error {
	m.closed = true
	return nil
}

func useFakeMigrator(t *testing.T, m *fakeMigrator) *string {
	t.Helper()
	var gotURL string
	orig := newMigrator
	newMigrator = func(url string) (migrator, error) {
		gotURL = url
		return m, nil
	}
	t.Cleanup(func() { newMigrator = orig })
	return &gotURL
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestMigrate_Up(t *testing.T) {
	m := &fakeMigrator{}
	gotURL := useFakeMigrator(t, m)

	out, err := runCLI(t, "", "--database-url", testDatabaseURL, "migrate", "up")
	require.NoError(t, err)

	assert.Equal(t, testDatabaseURL, *gotURL)
	assert.Equal(t, []string{"up"}, m.calls)
	assert.True(t, m.closed)
	assert.Contains(t, out, "Migrations applied")
}

func TestMigrate_Down(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantCalls []string
		wantSteps int
		wantCode  string
	}{
		{name: "steps", args: []string{"--steps", "2"}, wantCalls: []string{"steps"}, wantSteps: -2},
		{name: "all", args: []string{"--all"}, wantCalls: []string{"down"}},
		{name: "neither flag", args: nil, wantCode: "MIGRATION_INVALID_ARGS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMigrator{}
			useFakeMigrator(t, m)

			args := append([]string{"--database-url", testDatabaseURL, "migrate", "down"}, tt.args...)
			_, err := runCLI(t, "", args...)
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				assert.Empty(t, m.calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, m.calls)
			assert.Equal(t, tt.wantSteps, m.steps)
		})
	}
}

func TestMigrate_Force(t *testing.T) {
	m := &fakeMigrator{}
	useFakeMigrator(t, m)

	out, err := runCLI(t, "", "--database-url", testDatabaseURL, "migrate", "force", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.forced)
	assert.Contains(t, out, "forced to 1")

	_, err = runCLI(t, "", "--database-url", testDatabaseURL, "migrate", "force", "one")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INVALID_ARGS")
}

func TestMigrate_Status(t *testing.T) {
	m := &fakeMigrator{status: &store.MigrationStatus{Version: 1, Applied: []uint{1}, Pending: []uint{2}}}
	useFakeMigrator(t, m)

	out, err := runCLI(t, "", "--database-url", testDatabaseURL, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: 1\n")
	assert.Contains(t, out, "applied  000001_users")
	assert.Contains(t, out, "pending  000002_otp_tokens")

	out, err = runCLI(t, "", "--database-url", testDatabaseURL, "migrate", "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"Version": 1`)
	assert.Contains(t, out, `"Pending": [`)
}

func TestMigrate_PropagatesErrors(t *testing.T) {
	m := &fakeMigrator{err: errors.New("dirty database")}
	useFakeMigrator(t, m)

	_, err := runCLI(t, "", "--database-url", testDatabaseURL, "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dirty database")
	assert.True(t, m.closed)
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	m := &fakeMigrator{}
	useFakeMigrator(t, m)

	_, err := runCLI(t, "", "migrate", "up")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, config.CodeConfigInvalid)
	assert.Empty(t, m.calls)
}

func TestFormatMigrationStatus_Dirty(t *testing.T) {
	out, err := formatMigrationStatus(&store.MigrationStatus{Version: 7, Dirty: true, Applied: []uint{7}}, false)
	require.NoError(t, err)
	assert.Contains(t, out, "Version: 7 (dirty)")
	assert.Contains(t, out, "applied  000007")
}
