// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultStateSecret is only acceptable outside production
const DefaultStateSecret = "dev-only-state-secret-change-me"

// Store drivers
const (
	DriverFS        = "fs"
	DriverPostgres  = "postgres"
	DriverSQLite    = "sqlite"
	DriverDatastore = "datastore"
)

var drivers = []string{DriverFS, DriverPostgres, DriverSQLite, DriverDatastore}

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the web server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr, when set, also serves gRPC behind the session interceptor.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// BaseURL is the externally visible URL; provider callbacks are built from it.
	BaseURL string `mapstructure:"BASE_URL"`

	// StoreDriver selects the credential and session store: fs, postgres, sqlite or datastore.
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	// DataDir is the fs store directory.
	DataDir string `mapstructure:"DATA_DIR"`
	// DatabaseURL is the Postgres DSN, or the database file for sqlite.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DatastoreProject and DatastoreNamespace select the Datastore database.
	DatastoreProject   string `mapstructure:"DATASTORE_PROJECT"`
	DatastoreNamespace string `mapstructure:"DATASTORE_NAMESPACE"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `mapstructure:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `mapstructure:"GITHUB_CLIENT_SECRET"`

	// SessionLifetime is the absolute session lifetime (default 24h).
	SessionLifetime time.Duration `mapstructure:"SESSION_LIFETIME"`
	// SessionIdleTimeout expires sessions after inactivity; 0 disables it.
	SessionIdleTimeout time.Duration `mapstructure:"SESSION_IDLE_TIMEOUT"`
	// SessionCleanupInterval is how often expired SQL sessions are deleted.
	SessionCleanupInterval time.Duration `mapstructure:"SESSION_CLEANUP_INTERVAL"`
	// SecureCookies marks cookies https-only. Required in production.
	SecureCookies bool `mapstructure:"SECURE_COOKIES"`
	// StateSecret signs the oauth state cookie.
	StateSecret string `mapstructure:"STATE_SECRET"`
	// ExchangeTimeout bounds the provider token exchange and profile fetch.
	ExchangeTimeout time.Duration `mapstructure:"EXCHANGE_TIMEOUT"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is debug, info, warn or error. LogFormat is text or json.
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", "")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("STORE_DRIVER", DriverFS)
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATASTORE_PROJECT", "")
	v.SetDefault("DATASTORE_NAMESPACE", "")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GITHUB_CLIENT_ID", "")
	v.SetDefault("GITHUB_CLIENT_SECRET", "")
	v.SetDefault("SESSION_LIFETIME", "24h")
	v.SetDefault("SESSION_IDLE_TIMEOUT", "0s")
	v.SetDefault("SESSION_CLEANUP_INTERVAL", "5m")
	v.SetDefault("SECURE_COOKIES", false)
	v.SetDefault("STATE_SECRET", DefaultStateSecret)
	v.SetDefault("EXCHANGE_TIMEOUT", "10s")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// isNotFound reports whether err means the env file is absent, which is fine
func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// Validate checks the loaded values and fills derived defaults
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}

	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	if !slices.Contains(drivers, c.StoreDriver) {
		return fmt.Errorf("config: STORE_DRIVER must be one of %s", strings.Join(drivers, ", "))
	}
	switch c.StoreDriver {
	case DriverFS:
		if c.DataDir == "" {
			return errors.New("config: DATA_DIR must be set for the fs store")
		}
	case DriverPostgres, DriverSQLite:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL must be set for the %s store", c.StoreDriver)
		}
	case DriverDatastore:
		if c.DatastoreProject == "" {
			return errors.New("config: DATASTORE_PROJECT must be set for the datastore store")
		}
	}

	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		return errors.New("config: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together")
	}
	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		return errors.New("config: GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together")
	}

	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if c.SessionLifetime <= 0 {
		return errors.New("config: SESSION_LIFETIME must be positive")
	}
	if c.SessionIdleTimeout < 0 {
		return errors.New("config: SESSION_IDLE_TIMEOUT must not be negative")
	}
	if c.ExchangeTimeout <= 0 {
		c.ExchangeTimeout = 10 * time.Second
	}
	if c.StateSecret == "" {
		return errors.New("config: STATE_SECRET must be set")
	}

	if c.IsProduction() {
		if !c.SecureCookies {
			return errors.New("config: SECURE_COOKIES must be true when APP_ENV=production")
		}
		if c.StateSecret == DefaultStateSecret || len(c.StateSecret) < 32 {
			return errors.New("config: STATE_SECRET must be a random value of at least 32 characters when APP_ENV=production")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// GoogleEnabled reports whether Google login is configured
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// GitHubEnabled reports whether GitHub login is configured
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// CallbackURL is the redirect URL registered with provider
func (c *Config) CallbackURL(provider string) string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/auth/" + provider + "/callback"
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
