// Package config loads runtime settings from the environment and the
// source catalog from the sources directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type (
	// RedisConfig holds the connection settings for the redis instance
	// backing the secrets store and the persistence sink
	RedisConfig struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
	}

	// Config holds configuration settings for the board service
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Stores
		Redis RedisConfig

		// Sources
		SourcesDir string

		// Engine
		HTTPTimeout     time.Duration
		ScriptsEnabled  bool
		ShutdownTimeout time.Duration
	}
)

const (
	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535

	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisDB       = 0
	DefaultRedisPrefix   = "quotaboard"

	DefaultSourcesDir = "sources"

	DefaultHTTPTimeout     = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	MaxHTTPTimeout = 10 * time.Minute
)

var (
	ErrInvalidAPIPort     = errors.New("invalid API port")
	ErrInvalidHTTPTimeout = errors.New("http timeout must be positive")
	ErrMissingSourcesDir  = errors.New("sources directory is required")
)

// NewDefaultConfig creates a configuration with sensible defaults for
// the server, stores, and engine settings
func NewDefaultConfig() *Config {
	return &Config{
		APIHost: DefaultAPIHost,
		APIPort: DefaultAPIPort,
		Redis: RedisConfig{
			Addr:     DefaultRedisEndpoint,
			Password: "",
			DB:       DefaultRedisDB,
			Prefix:   DefaultRedisPrefix,
		},
		SourcesDir:      DefaultSourcesDir,
		HTTPTimeout:     DefaultHTTPTimeout,
		ScriptsEnabled:  true,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        "info",
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if sourcesDir := os.Getenv("SOURCES_DIR"); sourcesDir != "" {
		c.SourcesDir = sourcesDir
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB: %q", dbStr)
		}
		c.Redis.DB = db
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		c.Redis.Prefix = prefix
	}

	if scripts := os.Getenv("SCRIPTS_ENABLED"); scripts != "" {
		enabled, err := strconv.ParseBool(scripts)
		if err != nil {
			return fmt.Errorf("invalid SCRIPTS_ENABLED: %q", scripts)
		}
		c.ScriptsEnabled = enabled
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"HTTP_TIMEOUT", &c.HTTPTimeout, MaxHTTPTimeout,
	); err != nil {
		return err
	}
	return loadEnvDuration(
		"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout, MaxHTTPTimeout,
	)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.HTTPTimeout <= 0 {
		return ErrInvalidHTTPTimeout
	}
	if c.SourcesDir == "" {
		return ErrMissingSourcesDir
	}
	return nil
}

// loadEnvInt reads key from the environment, parses it as an integer,
// and sets *dst if the value is in the range (min, max]
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

// loadEnvDuration reads key as a Go duration string such as "30s"
func loadEnvDuration(key string, dst *time.Duration, max time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if d <= 0 || d > max {
		return fmt.Errorf("invalid %s: %s out of range", key, d)
	}
	*dst = d
	return nil
}
