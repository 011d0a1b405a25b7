// Package config provides loading, validation and live reloading of the
// storygen YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ford-at-home/storygen/engine"
	"github.com/ford-at-home/storygen/secure"
	"github.com/ford-at-home/storygen/store"
)

// Environment variables that override file values.
const (
	EnvRedisURL          = "STORYGEN_REDIS_URL"
	EnvSQLitePath        = "STORYGEN_SQLITE_PATH"
	EnvEtcdEndpoints     = "STORYGEN_ETCD_ENDPOINTS"
	EnvEncryptionSecrets = "STORYGEN_ENCRYPTION_SECRETS"
	EnvLogLevel          = "LOG_LEVEL"
	EnvLogFormat         = "LOG_FORMAT"
	EnvLogFile           = "LOG_FILE"
)

// Durable backends.
const (
	BackendSQLite = "sqlite"
	BackendEtcd   = "etcd"
)

// Config is the storygen.yaml document.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Etcd     EtcdConfig     `yaml:"etcd"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Engine   engine.Config  `yaml:"engine"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	Health   HealthConfig   `yaml:"health"`
}

// StoreConfig selects the durable backend and tunes the in-process tier.
type StoreConfig struct {
	// Backend is "sqlite" or "etcd".
	Backend string `yaml:"backend"`

	L1TTL             time.Duration `yaml:"l1_ttl"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	// Retention is the durability window of the L3 record.
	Retention time.Duration `yaml:"retention"`
}

// RedisConfig configures the L2 tier. An empty URL disables it.
type RedisConfig struct {
	URL       string           `yaml:"url"`
	TTL       time.Duration    `yaml:"ttl"`
	KeyPrefix string           `yaml:"key_prefix"`
	Required  bool             `yaml:"required"`
	TLS       *store.TLSConfig `yaml:"tls,omitempty"`
}

// SQLiteConfig configures the SQLite L3 repository.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// EtcdConfig configures the etcd L3 repository.
type EtcdConfig struct {
	Endpoints   []string         `yaml:"endpoints"`
	Namespace   string           `yaml:"namespace"`
	DialTimeout time.Duration    `yaml:"dial_timeout"`
	TLS         *store.TLSConfig `yaml:"tls,omitempty"`
}

// SweeperConfig tunes the background expiry sweep.
type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SecurityConfig enables the secure session variant.
type SecurityConfig struct {
	Enabled bool `yaml:"enabled"`

	// Secrets are encryption secrets; the first is primary, the rest only
	// decrypt.
	Secrets []string `yaml:"secrets"`

	MaxSessionsPerOwner int `yaml:"max_sessions_per_owner"`
	MaxAddrChanges      int `yaml:"max_addr_changes"`
}

// LoggingConfig configures the default slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	File   string `yaml:"file"`
}

// HealthConfig configures the gRPC health endpoint.
type HealthConfig struct {
	Addr     string        `yaml:"addr"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:           BackendSQLite,
			L1TTL:             store.DefaultL1TTL,
			InactivityTimeout: store.DefaultInactivityTimeout,
			Retention:         store.DefaultRetention,
		},
		Redis: RedisConfig{
			TTL:       store.DefaultL2TTL,
			KeyPrefix: store.DefaultKeyPrefix,
		},
		SQLite: SQLiteConfig{
			Path: "storygen.db",
		},
		Etcd: EtcdConfig{
			Namespace:   "storygen",
			DialTimeout: 5 * time.Second,
		},
		Sweeper: SweeperConfig{
			Interval: store.DefaultSweepInterval,
			Timeout:  store.DefaultSweepTimeout,
		},
		Engine: engine.DefaultConfig(),
		Security: SecurityConfig{
			MaxSessionsPerOwner: secure.DefaultMaxSessionsPerOwner,
			MaxAddrChanges:      secure.DefaultMaxAddrChanges,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Health: HealthConfig{
			Addr:     ":9090",
			Interval: 15 * time.Second,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvRedisURL); v != "" {
		c.Redis.URL = v
	}
	if v := getenv(EnvSQLitePath); v != "" {
		c.SQLite.Path = v
	}
	if v := getenv(EnvEtcdEndpoints); v != "" {
		c.Etcd.Endpoints = splitList(v)
		c.Store.Backend = BackendEtcd
	}
	if v := getenv(EnvEncryptionSecrets); v != "" {
		c.Security.Secrets = splitList(v)
		c.Security.Enabled = true
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
	if v := getenv(EnvLogFile); v != "" {
		c.Logging.File = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"store.l1_ttl", c.Store.L1TTL},
		{"store.inactivity_timeout", c.Store.InactivityTimeout},
		{"store.retention", c.Store.Retention},
		{"redis.ttl", c.Redis.TTL},
		{"sweeper.interval", c.Sweeper.Interval},
		{"sweeper.timeout", c.Sweeper.Timeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.d))
		}
	}

	switch c.Store.Backend {
	case BackendSQLite:
		if c.SQLite.Path == "" {
			errs = append(errs, fmt.Errorf("sqlite.path is required for the sqlite backend"))
		}
	case BackendEtcd:
		if len(c.Etcd.Endpoints) == 0 {
			errs = append(errs, fmt.Errorf("etcd.endpoints is required for the etcd backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q", BackendSQLite, BackendEtcd, c.Store.Backend))
	}

	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}

	if c.Security.Enabled {
		if len(c.Security.Secrets) == 0 {
			errs = append(errs, fmt.Errorf("security.secrets is required when security is enabled"))
		}
		for i, s := range c.Security.Secrets {
			if len(s) < secure.MinSecretLength {
				errs = append(errs, fmt.Errorf("security.secrets[%d] must be at least %d bytes", i, secure.MinSecretLength))
			}
		}
		if c.Security.MaxSessionsPerOwner < 0 {
			errs = append(errs, fmt.Errorf("security.max_sessions_per_owner must not be negative"))
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
