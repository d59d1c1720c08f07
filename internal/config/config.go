// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional)
	RedisURL    string // Redis connection string (optional)

	// Verification settings
	TrustedEnvironment bool // relaxes enforcement for internal deployments
	HeadlessLeniency   int  // score discount applied to headless detection in trusted mode
	FlagTTLHours       int  // lifetime of the verified flag

	// Telemetry
	OTLPEndpoint   string // OTLP trace collector (optional)
	MetricsEnabled bool
	CallbackURL    string // Outcome callback endpoint (optional)

	// Security
	AdminSecret     string // Admin API secret
	RateLimitPerMin int    // middleware request budget per client per minute
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultFlagTTLHours     = 24
	DefaultHeadlessLeniency = 30
	DefaultRateLimitPerMin  = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:           os.Getenv("REDIS_URL"),    // Optional
		TrustedEnvironment: getEnvBool("TRUSTED_ENVIRONMENT", false),
		HeadlessLeniency:   int(getEnvInt64("HEADLESS_LENIENCY", DefaultHeadlessLeniency)),
		FlagTTLHours:       int(getEnvInt64("FLAG_TTL_HOURS", DefaultFlagTTLHours)),
		OTLPEndpoint:       os.Getenv("OTLP_ENDPOINT"),
		CallbackURL:        os.Getenv("CALLBACK_URL"),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		RateLimitPerMin:    int(getEnvInt64("RATE_LIMIT_PER_MINUTE", int64(DefaultRateLimitPerMin))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.FlagTTLHours <= 0 {
		return fmt.Errorf("FLAG_TTL_HOURS must be positive")
	}
	if c.HeadlessLeniency < 0 {
		return fmt.Errorf("HEADLESS_LENIENCY must not be negative")
	}
	if c.RateLimitPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.DatabaseURL != "" && c.RedisURL != "" {
		return fmt.Errorf("DATABASE_URL and REDIS_URL are mutually exclusive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
