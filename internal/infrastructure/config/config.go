package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Loader    LoaderConfig
	Rules     RulesConfig
	Sandbox   SandboxConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// UpstreamConfig holds the origin site settings.
type UpstreamConfig struct {
	URL             string        `envconfig:"UPSTREAM_URL" default:"http://localhost:8081"`
	Timeout         time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"15s"`
	Retries         int           `envconfig:"UPSTREAM_RETRIES" default:"2"`
	RequestsPerSec  int           `envconfig:"UPSTREAM_RPS" default:"50"`
	MaxBodyBytes    int64         `envconfig:"UPSTREAM_MAX_BODY" default:"10485760"`
	BreakerFailures uint32        `envconfig:"UPSTREAM_BREAKER_FAILURES" default:"5"`
}

// LoaderConfig holds deferred loader settings.
type LoaderConfig struct {
	Timeout time.Duration `envconfig:"LOADER_TIMEOUT" default:"5s"`
}

// RulesConfig locates the eligibility rules file.
type RulesConfig struct {
	File string `envconfig:"RULES_FILE"`
}

// SandboxConfig holds script runtime pool settings.
type SandboxConfig struct {
	PoolSize int           `envconfig:"SANDBOX_POOL_SIZE" default:"2"`
	Timeout  time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"2s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Host:            "0.0.0.0",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			URL:             "http://localhost:8081",
			Timeout:         15 * time.Second,
			Retries:         2,
			RequestsPerSec:  50,
			MaxBodyBytes:    10 << 20,
			BreakerFailures: 5,
		},
		Loader: LoaderConfig{
			Timeout: 5 * time.Second,
		},
		Sandbox: SandboxConfig{
			PoolSize: 2,
			Timeout:  2 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
