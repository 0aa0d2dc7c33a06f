// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read into the config.
// Nested keys are separated by a double underscore, for example
// GATEKEEP_AUTH__ACCESS_TTL.
const EnvPrefix = "GATEKEEP_"

// Options selects the sources Load reads.
type Options struct {
	// File is an optional YAML config file. It is validated against the
	// config schema before it is merged.
	File string
	// EnvFiles are loaded into the process environment first. Variables
	// already set are not overwritten.
	EnvFiles []string
	// Flags contributes values for flags the user set explicitly. Flags
	// are mapped to keys with FlagKeys.
	Flags *pflag.FlagSet
	// Getenv overrides os.Getenv for the DATABASE_URL fallback.
	Getenv func(string) string
}

// FlagKeys maps command-line flag names to config keys. Flags not listed
// here are ignored by Load.
var FlagKeys = map[string]string{
	"log-level":     "log.level",
	"log-format":    "log.format",
	"http-addr":     "http.addr",
	"metrics-addr":  "metrics.addr",
	"database-url":  "database.url",
	"auto-migrate":  "database.auto_migrate",
	"mail-driver":   "mail.driver",
	"ratelimit":     "ratelimit.backend",
	"redis-url":     "ratelimit.redis_url",
	"cookie-secure": "http.cookie_secure",
	"trust-proxy":   "http.trust_proxy",
}

// BindFlags registers the flags listed in FlagKeys on fs with the
// built-in defaults.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("http-addr", d.HTTP.Addr, "public HTTP listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("database-url", "", "PostgreSQL connection URL (default: DATABASE_URL)")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations on startup")
	fs.String("mail-driver", d.Mail.Driver, "one-time token delivery (log or smtp)")
	fs.String("ratelimit", d.RateLimit.Backend, "rate limit backend (memory or redis)")
	fs.String("redis-url", "", "redis URL for the redis rate limit backend")
	fs.Bool("cookie-secure", d.HTTP.CookieSecure, "mark session cookies Secure")
	fs.Bool("trust-proxy", d.HTTP.TrustProxy, "take client IPs from X-Forwarded-For / X-Real-IP")
}

// Load builds a Config. Later sources win: built-in defaults, the YAML
// file, GATEKEEP_ environment variables, then explicitly set flags.
func Load(opts Options) (*Config, error) {
	for _, f := range opts.EnvFiles {
		if err := godotenv.Load(f); err != nil {
			return nil, oops.Code("CONFIG_ENV_FILE").With("file", f).Wrap(err)
		}
	}

	k := koanf.New(".")

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, oops.Code("CONFIG_FILE_NOT_FOUND").With("file", opts.File).Wrap(err)
			}
			return nil, oops.Code("CONFIG_FILE_READ").With("file", opts.File).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.Code(CodeConfigInvalid).With("file", opts.File).Wrap(err)
		}
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_READ").With("file", opts.File).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_READ").Wrap(err)
	}

	if opts.Flags != nil {
		// Only changed flags are applied. Defaults already come from Default.
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_READ").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code(CodeConfigInvalid).Wrap(err)
	}

	if cfg.Database.URL == "" {
		getenv := opts.Getenv
		if getenv == nil {
			getenv = os.Getenv
		}
		cfg.Database.URL = getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns GATEKEEP_AUTH__ACCESS_TTL into auth.access_ttl.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[REDACTED]"
	}
	return u.Redacted()
}
