// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

const (
	testAccessSecret  = "access-secret-0123456789abcdefghijklmnopq"
	testRefreshSecret = "refresh-secret-0123456789abcdefghijklmnop"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnv(string) string { return "" }

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	ac := cfg.ToAuthConfig()
	assert.Equal(t, 15*time.Minute, ac.AccessTTL)
	assert.True(t, ac.InvalidatePriorOtps)
	assert.Zero(t, ac.Leeway)
	assert.Equal(t, auth.LockoutPolicy{Threshold: 7, Duration: 15 * time.Minute}, ac.Lockout())
}

func TestLoad_LockoutSettings(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		env       map[string]string
		threshold int
		duration  time.Duration
	}{
		{
			name:      "from file",
			yaml:      "auth:\n  lockout_threshold: 3\n  lockout_duration: 1h\n",
			threshold: 3,
			duration:  time.Hour,
		},
		{
			name:      "env disables lockout",
			yaml:      "auth:\n  lockout_threshold: 3\n",
			env:       map[string]string{"GATEKEEP_AUTH__LOCKOUT_THRESHOLD": "0"},
			threshold: 0,
			duration:  15 * time.Minute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeFile(t, "gatekeep.yaml", tt.yaml)

			cfg, err := Load(Options{File: path, Getenv: noEnv})
			require.NoError(t, err)

			policy := cfg.ToAuthConfig().Lockout()
			assert.Equal(t, tt.threshold, policy.Threshold)
			assert.Equal(t, tt.duration, policy.Duration)
		})
	}
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load(Options{Getenv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "gatekeep.yaml", `
log:
  format: text
http:
  addr: 0.0.0.0:8443
auth:
  access_ttl: 5m
  access_secret: `+testAccessSecret+`
  refresh_secret: `+testRefreshSecret+`
  argon2:
    time: 3
ratelimit:
  login_limit: 3
`)

	cfg, err := Load(Options{File: path, Getenv: noEnv})
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "0.0.0.0:8443", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, uint32(3), cfg.Auth.Argon2.Time)
	assert.Equal(t, 3, cfg.RateLimit.LoginLimit)
	// Untouched keys keep their defaults.
	assert.Equal(t, Default().Auth.RefreshTTL, cfg.Auth.RefreshTTL)
	assert.Equal(t, Default().Auth.Argon2.MemoryKiB, cfg.Auth.Argon2.MemoryKiB)

	require.NoError(t, cfg.ToAuthConfig().Validate())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "gatekeep.yaml", "auth:\n  access_ttl: 5m\n")
	t.Setenv("GATEKEEP_AUTH__ACCESS_TTL", "2m")
	t.Setenv("GATEKEEP_AUTH__ARGON2__THREADS", "2")
	t.Setenv("GATEKEEP_HTTP__COOKIE_SECURE", "false")

	cfg, err := Load(Options{File: path, Getenv: noEnv})
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, uint8(2), cfg.Auth.Argon2.Threads)
	assert.False(t, cfg.HTTP.CookieSecure)
}

func TestLoad_ChangedFlagsWin(t *testing.T) {
	t.Setenv("GATEKEEP_LOG__FORMAT", "text")
	t.Setenv("GATEKEEP_HTTP__ADDR", "127.0.0.1:7000")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--http-addr", "127.0.0.1:9000", "--trust-proxy"}))

	cfg, err := Load(Options{Flags: fs, Getenv: noEnv})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr, "explicit flag beats env")
	assert.True(t, cfg.HTTP.TrustProxy)
	assert.Equal(t, "text", cfg.Log.Format, "unset flag default does not beat env")
}

func TestLoad_EnvFile(t *testing.T) {
	// Register cleanup for the variable godotenv is about to set.
	t.Setenv("GATEKEEP_RATELIMIT__WINDOW", "")
	require.NoError(t, os.Unsetenv("GATEKEEP_RATELIMIT__WINDOW"))

	envFile := writeFile(t, ".env", "GATEKEEP_RATELIMIT__WINDOW=30s\n")

	cfg, err := Load(Options{EnvFiles: []string{envFile}, Getenv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
}

func TestLoad_DatabaseURLFallback(t *testing.T) {
	cfg, err := Load(Options{Getenv: func(k string) string {
		if k == "DATABASE_URL" {
			return "postgres://gk:pw@localhost/gk"
		}
		return ""
	}})
	require.NoError(t, err)
	assert.Equal(t, "postgres://gk:pw@localhost/gk", cfg.Database.URL)
	assert.NoError(t, cfg.RequireDatabase())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		opts     func(t *testing.T) Options
		wantCode string
	}{
		{
			name:     "missing file",
			opts:     func(t *testing.T) Options { return Options{File: filepath.Join(t.TempDir(), "nope.yaml")} },
			wantCode: "CONFIG_FILE_NOT_FOUND",
		},
		{
			name:     "missing env file",
			opts:     func(t *testing.T) Options { return Options{EnvFiles: []string{filepath.Join(t.TempDir(), ".env")}} },
			wantCode: "CONFIG_ENV_FILE",
		},
		{
			name: "unknown key",
			opts: func(t *testing.T) Options {
				return Options{File: writeFile(t, "c.yaml", "auth:\n  acces_ttl: 5m\n")}
			},
			wantCode: CodeConfigInvalid,
		},
		{
			name: "wrong type",
			opts: func(t *testing.T) Options {
				return Options{File: writeFile(t, "c.yaml", "ratelimit:\n  login_limit: lots\n")}
			},
			wantCode: CodeConfigInvalid,
		},
		{
			name: "bad duration",
			opts: func(t *testing.T) Options {
				return Options{File: writeFile(t, "c.yaml", "auth:\n  access_ttl: soon\n")}
			},
			wantCode: CodeConfigInvalid,
		},
		{
			name: "bad enum",
			opts: func(t *testing.T) Options {
				return Options{File: writeFile(t, "c.yaml", "log:\n  format: xml\n")}
			},
			wantCode: CodeConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts(t)
			opts.Getenv = noEnv
			_, err := Load(opts)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"mail driver", func(c *Config) { c.Mail.Driver = "pigeon" }, "mail.driver"},
		{"smtp without host", func(c *Config) { c.Mail.Driver = MailDriverSMTP; c.Mail.From = "a@b.c" }, "mail.host"},
		{"smtp without from", func(c *Config) { c.Mail.Driver = MailDriverSMTP; c.Mail.Host = "smtp" }, "mail.from"},
		{"redis without url", func(c *Config) { c.RateLimit.Backend = RateLimitRedis }, "ratelimit.redis_url"},
		{"unknown backend", func(c *Config) { c.RateLimit.Backend = "etcd" }, "ratelimit.backend"},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }, "ratelimit.window"},
		{"zero conns", func(c *Config) { c.Database.MaxConns = 0 }, "database.max_conns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, CodeConfigInvalid)
			errutil.AssertErrorContext(t, err, "field", tt.field)
		})
	}

	t.Run("database required", func(t *testing.T) {
		cfg := Default()
		err := cfg.RequireDatabase()
		errutil.AssertErrorContext(t, err, "field", "database.url")
	})
}

func TestConfig_Redacted(t *testing.T) {
	cfg := Default()
	cfg.Auth.AccessSecret = testAccessSecret
	cfg.Auth.RefreshSecret = testRefreshSecret
	cfg.Mail.Password = "smtp-pass"
	cfg.Database.URL = "postgres://gk:hunter2@db:5432/gk"

	r := cfg.Redacted()
	assert.Equal(t, "[REDACTED]", r.Auth.AccessSecret)
	assert.Equal(t, "[REDACTED]", r.Auth.RefreshSecret)
	assert.Equal(t, "[REDACTED]", r.Mail.Password)
	assert.NotContains(t, r.Database.URL, "hunter2")
	assert.Contains(t, r.Database.URL, "db:5432")
	assert.Empty(t, r.RateLimit.RedisURL)

	// The original is untouched.
	assert.Equal(t, testAccessSecret, cfg.Auth.AccessSecret)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "auth.access_ttl", envKey("GATEKEEP_AUTH__ACCESS_TTL"))
	assert.Equal(t, "auth.argon2.memory_kib", envKey("GATEKEEP_AUTH__ARGON2__MEMORY_KIB"))
	assert.Equal(t, "log.level", envKey("GATEKEEP_LOG__LEVEL"))
}
