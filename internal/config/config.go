// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package config loads and validates gatehouse configuration.
//
// Configuration is read once at startup from an optional YAML file,
// overlaid with command-line flags. It is immutable for the lifetime
// of the process.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Default values applied before the file and flag overlays.
const (
	DefaultListenAddr      = ":8080"
	DefaultMetricsAddr     = "127.0.0.1:9100"
	DefaultLogFormat       = "json"
	DefaultCookieName      = "gatehouse_session"
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultSweepInterval   = 5 * time.Minute
	DefaultLockoutLimit    = 5
	DefaultLockoutCooldown = 15 * time.Minute
	DefaultThrottleRate    = 1.0
	DefaultThrottleBurst   = 5
)

// Identity is the single account allowed through the gate.
// PasswordHash is a PHC-encoded argon2id string produced by the
// hash-password subcommand; the plaintext never appears in config.
type Identity struct {
	Username     string `koanf:"username"`
	PasswordHash string `koanf:"password_hash"`
}

// Session configures session issuance and storage.
type Session struct {
	CookieName    string        `koanf:"cookie_name"`
	CookiePath    string        `koanf:"cookie_path"`
	CookieSecure  bool          `koanf:"cookie_secure"`
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// DatabaseURL selects the Postgres session store when set.
	// Empty means the in-memory store.
	DatabaseURL string `koanf:"database_url"`
}

// Lockout configures the per-session brute-force policy.
type Lockout struct {
	Threshold int           `koanf:"threshold"`
	Cooldown  time.Duration `koanf:"cooldown"`
}

// Throttle configures the secondary per-client-address rate limit.
type Throttle struct {
	Enabled bool    `koanf:"enabled"`
	Rate    float64 `koanf:"rate"`
	Burst   int     `koanf:"burst"`
}

// Config is the root configuration for the gate process.
type Config struct {
	ListenAddr  string `koanf:"listen_addr"`
	MetricsAddr string `koanf:"metrics_addr"`
	LogFormat   string `koanf:"log_format"`

	// UpstreamURL is the protected application's entry point, where
	// authenticated clients are redirected. Treated as opaque.
	UpstreamURL string `koanf:"upstream_url"`

	// ExcludedPaths are glob patterns that bypass the redirect-to-login
	// rule, evaluated in order. The gate's own endpoints are always
	// excluded regardless of this list.
	ExcludedPaths []string `koanf:"excluded_paths"`

	Identity Identity `koanf:"identity"`
	Session  Session  `koanf:"session"`
	Lockout  Lockout  `koanf:"lockout"`
	Throttle Throttle `koanf:"throttle"`
}

// Default returns a Config populated with secure defaults.
// Identity and UpstreamURL have no defaults and must be configured.
func Default() Config {
	return Config{
		ListenAddr:  DefaultListenAddr,
		MetricsAddr: DefaultMetricsAddr,
		LogFormat:   DefaultLogFormat,
		Session: Session{
			CookieName:    DefaultCookieName,
			CookiePath:    "/",
			CookieSecure:  true,
			IdleTimeout:   DefaultIdleTimeout,
			SweepInterval: DefaultSweepInterval,
		},
		Lockout: Lockout{
			Threshold: DefaultLockoutLimit,
			Cooldown:  DefaultLockoutCooldown,
		},
		Throttle: Throttle{
			Enabled: true,
			Rate:    DefaultThrottleRate,
			Burst:   DefaultThrottleBurst,
		},
	}
}

// Load reads configuration from the given YAML file (optional, may be
// empty) and overlays any flags changed on the given flag set. Flag
// names must match koanf key paths (e.g. "listen_addr").
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("listen_addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.LogFormat).
			Errorf("log_format must be 'json' or 'text'")
	}
	if c.UpstreamURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("upstream_url is required")
	}
	if u, err := url.Parse(c.UpstreamURL); err != nil || u.Scheme == "" {
		return oops.Code("CONFIG_INVALID").
			With("upstream_url", c.UpstreamURL).
			Errorf("upstream_url must be an absolute URL")
	}
	if c.Identity.Username == "" {
		return oops.Code("CONFIG_INVALID").Errorf("identity.username is required")
	}
	if c.Identity.PasswordHash == "" {
		return oops.Code("CONFIG_INVALID").Errorf("identity.password_hash is required")
	}
	if !strings.HasPrefix(c.Identity.PasswordHash, "$argon2id$") {
		return oops.Code("CONFIG_INVALID").
			Errorf("identity.password_hash must be an argon2id PHC string (use the hash-password command)")
	}
	if c.Session.CookieName == "" {
		return oops.Code("CONFIG_INVALID").Errorf("session.cookie_name is required")
	}
	if c.Session.IdleTimeout <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("session.idle_timeout must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("session.sweep_interval must be positive")
	}
	if c.Lockout.Threshold <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("lockout.threshold must be positive")
	}
	if c.Lockout.Cooldown <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("lockout.cooldown must be positive")
	}
	if c.Throttle.Enabled && (c.Throttle.Rate <= 0 || c.Throttle.Burst <= 0) {
		return oops.Code("CONFIG_INVALID").Errorf("throttle.rate and throttle.burst must be positive when enabled")
	}
	return nil
}
