// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package config loads gatekeep configuration from flags, a YAML file,
// the environment and .env files.
package config

import (
	"time"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// CodeConfigInvalid is the error code for configuration that fails validation.
const CodeConfigInvalid = "CONFIG_INVALID"

// Config is the complete process configuration.
type Config struct {
	Log       LogConfig       `koanf:"log" yaml:"log" jsonschema:"description=Logging output"`
	HTTP      HTTPConfig      `koanf:"http" yaml:"http" jsonschema:"description=Public HTTP API"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics" jsonschema:"description=Metrics and health checks"`
	Database  DatabaseConfig  `koanf:"database" yaml:"database"`
	Auth      AuthConfig      `koanf:"auth" yaml:"auth"`
	Mail      MailConfig      `koanf:"mail" yaml:"mail"`
	RateLimit RateLimitConfig `koanf:"ratelimit" yaml:"ratelimit"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `koanf:"format" yaml:"format" jsonschema:"enum=json,enum=text"`
}

// HTTPConfig controls the public API listener and its cookies.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	CookieSecure    bool          `koanf:"cookie_secure" yaml:"cookie_secure"`
	CookieDomain    string        `koanf:"cookie_domain" yaml:"cookie_domain"`
	// TrustProxy takes the client IP for rate limiting from
	// X-Forwarded-For / X-Real-IP.
	TrustProxy bool `koanf:"trust_proxy" yaml:"trust_proxy"`
}

// MetricsConfig controls the observability listener. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// DatabaseConfig controls the PostgreSQL connection.
type DatabaseConfig struct {
	URL            string        `koanf:"url" yaml:"url"`
	MaxConns       int32         `koanf:"max_conns" yaml:"max_conns" jsonschema:"minimum=1"`
	ConnectRetries uint64        `koanf:"connect_retries" yaml:"connect_retries"`
	RetryBackoff   time.Duration `koanf:"retry_backoff" yaml:"retry_backoff"`
	AutoMigrate    bool          `koanf:"auto_migrate" yaml:"auto_migrate"`
}

// AuthConfig mirrors auth.Config in a file- and env-friendly shape.
type AuthConfig struct {
	Issuer              string        `koanf:"issuer" yaml:"issuer"`
	AccessSecret        string        `koanf:"access_secret" yaml:"access_secret"`
	RefreshSecret       string        `koanf:"refresh_secret" yaml:"refresh_secret"`
	AccessTTL           time.Duration `koanf:"access_ttl" yaml:"access_ttl"`
	RefreshTTL          time.Duration `koanf:"refresh_ttl" yaml:"refresh_ttl"`
	VerifyEmailTTL      time.Duration `koanf:"verify_email_ttl" yaml:"verify_email_ttl"`
	ResetPasswordTTL    time.Duration `koanf:"reset_password_ttl" yaml:"reset_password_ttl"`
	Leeway              time.Duration `koanf:"leeway" yaml:"leeway"`
	InvalidatePriorOtps bool          `koanf:"invalidate_prior_otps" yaml:"invalidate_prior_otps"`
	// LockoutThreshold of zero disables account lockout.
	LockoutThreshold int           `koanf:"lockout_threshold" yaml:"lockout_threshold" jsonschema:"minimum=0"`
	LockoutDuration  time.Duration `koanf:"lockout_duration" yaml:"lockout_duration"`
	Argon2           Argon2Config  `koanf:"argon2" yaml:"argon2"`
}

// Argon2Config holds the password hashing cost.
type Argon2Config struct {
	Time      uint32 `koanf:"time" yaml:"time" jsonschema:"minimum=1"`
	MemoryKiB uint32 `koanf:"memory_kib" yaml:"memory_kib" jsonschema:"minimum=8"`
	Threads   uint8  `koanf:"threads" yaml:"threads" jsonschema:"minimum=1"`
	SaltLen   uint32 `koanf:"salt_len" yaml:"salt_len" jsonschema:"minimum=8"`
	KeyLen    uint32 `koanf:"key_len" yaml:"key_len" jsonschema:"minimum=16"`
}

// Mail drivers.
const (
	MailDriverLog  = "log"
	MailDriverSMTP = "smtp"
)

// MailConfig controls one-time token delivery.
type MailConfig struct {
	Driver   string `koanf:"driver" yaml:"driver" jsonschema:"enum=log,enum=smtp"`
	Host     string `koanf:"host" yaml:"host"`
	Port     int    `koanf:"port" yaml:"port" jsonschema:"minimum=0,maximum=65535"`
	Username string `koanf:"username" yaml:"username"`
	Password string `koanf:"password" yaml:"password"`
	From     string `koanf:"from" yaml:"from"`
	// BaseURL prefixes the links placed in outgoing mail.
	BaseURL string `koanf:"base_url" yaml:"base_url"`
}

// Rate limiter backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// RateLimitConfig controls per-client request limits.
type RateLimitConfig struct {
	Backend      string        `koanf:"backend" yaml:"backend" jsonschema:"enum=memory,enum=redis"`
	RedisURL     string        `koanf:"redis_url" yaml:"redis_url"`
	Window       time.Duration `koanf:"window" yaml:"window"`
	LoginLimit   int           `koanf:"login_limit" yaml:"login_limit" jsonschema:"minimum=0"`
	RequestLimit int           `koanf:"request_limit" yaml:"request_limit" jsonschema:"minimum=0"`
}

// Default returns the built-in configuration. Secrets and the database
// URL have no defaults.
func Default() Config {
	a := auth.DefaultConfig()
	return Config{
		Log: LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CookieSecure:    true,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Database: DatabaseConfig{
			MaxConns:       10,
			ConnectRetries: 5,
			RetryBackoff:   250 * time.Millisecond,
		},
		Auth: AuthConfig{
			Issuer:              a.Issuer,
			AccessTTL:           a.AccessTTL,
			RefreshTTL:          a.RefreshTTL,
			VerifyEmailTTL:      a.VerifyEmailTTL,
			ResetPasswordTTL:    a.ResetPasswordTTL,
			Leeway:              a.Leeway,
			InvalidatePriorOtps: a.InvalidatePriorOtps,
			LockoutThreshold:    a.LockoutThreshold,
			LockoutDuration:     a.LockoutDuration,
			Argon2: Argon2Config{
				Time:      a.Argon2.Time,
				MemoryKiB: a.Argon2.MemoryKiB,
				Threads:   a.Argon2.Threads,
				SaltLen:   a.Argon2.SaltLen,
				KeyLen:    a.Argon2.KeyLen,
			},
		},
		Mail: MailConfig{
			Driver:  MailDriverLog,
			Port:    587,
			BaseURL: "http://localhost:8080",
		},
		RateLimit: RateLimitConfig{
			Backend:      RateLimitMemory,
			Window:       time.Minute,
			LoginLimit:   10,
			RequestLimit: 5,
		},
	}
}

// ToAuthConfig converts the auth section into the engine's Config.
func (c *Config) ToAuthConfig() auth.Config {
	return auth.Config{
		AccessTTL:        c.Auth.AccessTTL,
		RefreshTTL:       c.Auth.RefreshTTL,
		VerifyEmailTTL:   c.Auth.VerifyEmailTTL,
		ResetPasswordTTL: c.Auth.ResetPasswordTTL,
		AccessSecret:     []byte(c.Auth.AccessSecret),
		RefreshSecret:    []byte(c.Auth.RefreshSecret),
		Issuer:           c.Auth.Issuer,
		Leeway:           c.Auth.Leeway,
		Argon2: auth.Argon2Params{
			Time:      c.Auth.Argon2.Time,
			MemoryKiB: c.Auth.Argon2.MemoryKiB,
			Threads:   c.Auth.Argon2.Threads,
			SaltLen:   c.Auth.Argon2.SaltLen,
			KeyLen:    c.Auth.Argon2.KeyLen,
		},
		InvalidatePriorOtps: c.Auth.InvalidatePriorOtps,
		LockoutThreshold:    c.Auth.LockoutThreshold,
		LockoutDuration:     c.Auth.LockoutDuration,
	}
}

// Validate checks the settings every command needs. Commands that touch
// the database or sign tokens additionally call RequireDatabase or
// ToAuthConfig().Validate.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	switch c.Mail.Driver {
	case MailDriverLog:
	case MailDriverSMTP:
		if c.Mail.Host == "" {
			return invalid("mail.host", "smtp driver requires a host")
		}
		if c.Mail.From == "" {
			return invalid("mail.from", "smtp driver requires a sender address")
		}
	default:
		return invalid("mail.driver", "unknown mail driver %q", c.Mail.Driver)
	}
	switch c.RateLimit.Backend {
	case RateLimitMemory:
	case RateLimitRedis:
		if c.RateLimit.RedisURL == "" {
			return invalid("ratelimit.redis_url", "redis backend requires a redis URL")
		}
	default:
		return invalid("ratelimit.backend", "unknown rate limit backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Window <= 0 {
		return invalid("ratelimit.window", "rate limit window must be positive")
	}
	if c.Database.MaxConns < 1 {
		return invalid("database.max_conns", "max_conns must be at least 1")
	}
	return nil
}

// RequireDatabase reports a missing database URL.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return invalid("database.url", "database URL is required (database.url or DATABASE_URL)")
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "[REDACTED]"
	}
	c.Auth.AccessSecret = mask(c.Auth.AccessSecret)
	c.Auth.RefreshSecret = mask(c.Auth.RefreshSecret)
	c.Mail.Password = mask(c.Mail.Password)
	c.Database.URL = redactURL(c.Database.URL)
	c.RateLimit.RedisURL = redactURL(c.RateLimit.RedisURL)
	return c
}

func invalid(field, format string, args ...any) error {
	return oops.Code(CodeConfigInvalid).With("field", field).Errorf(format, args...)
}
