// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Trust validation
	TrustScoreThreshold int // Minimum composite score (0-850) to request manual validation

	// Dispute SLA sweep
	SweepInterval   time.Duration // How often the stale-dispute sweep runs
	UrgentStaleAge  time.Duration // Urgent disputes older than this are flagged stale
	NormalStaleAge  time.Duration // Normal disputes older than this are flagged stale
	MinDescription  int           // Minimum dispute description length
	RespondMaxRetry int           // Max optimistic-concurrency retries on vote recording

	// Security
	WebhookSecret string
	RateLimitRPS  int

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultScoreThreshold  = 600
	DefaultSweepInterval   = time.Minute
	DefaultUrgentStaleAge  = 48 * time.Hour
	DefaultNormalStaleAge  = 7 * 24 * time.Hour
	DefaultMinDescription  = 50
	DefaultRespondMaxRetry = 3
	DefaultRateLimit       = 100
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		TrustScoreThreshold: int(getEnvInt64("TRUST_SCORE_THRESHOLD", DefaultScoreThreshold)),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		UrgentStaleAge:      getEnvDuration("URGENT_STALE_AGE", DefaultUrgentStaleAge),
		NormalStaleAge:      getEnvDuration("NORMAL_STALE_AGE", DefaultNormalStaleAge),
		MinDescription:      int(getEnvInt64("MIN_DISPUTE_DESCRIPTION", DefaultMinDescription)),
		RespondMaxRetry:     int(getEnvInt64("RESPOND_MAX_RETRY", DefaultRespondMaxRetry)),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPS:        int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.TrustScoreThreshold < 0 || c.TrustScoreThreshold > 850 {
		return fmt.Errorf("TRUST_SCORE_THRESHOLD must be between 0 and 850, got %d", c.TrustScoreThreshold)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.UrgentStaleAge <= 0 || c.NormalStaleAge <= 0 {
		return fmt.Errorf("stale age thresholds must be positive")
	}
	if c.UrgentStaleAge > c.NormalStaleAge {
		return fmt.Errorf("URGENT_STALE_AGE must not exceed NORMAL_STALE_AGE")
	}
	if c.MinDescription < 0 {
		return fmt.Errorf("MIN_DISPUTE_DESCRIPTION must not be negative")
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

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
