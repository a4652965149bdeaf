// Package config loads quantlab's process configuration from the
// environment, following the Load-from-.env-then-env-vars pattern used
// throughout the rest of the stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Port     int
	LogLevel string
	DevMode  bool
	DataDir  string

	// Upstream session credentials. The behavioral contract (spec.md §6
	// "Environment") is that the process refuses to start if these can't
	// produce a usable session.
	UpstreamHost     string
	UpstreamPort     int
	UpstreamClientID int
	UpstreamUsername string
	UpstreamPassword string

	// Bar cache bounds.
	CacheMaxBars int

	// Coordinator pacing.
	CoordinatorSlots          int
	CoordinatorRatePerWindow  int
	CoordinatorRateWindow     time.Duration
	CoordinatorPerContractQPS int
	RequestTimeout            time.Duration

	// Expiry calendar.
	CalendarTTL time.Duration

	// Optional S3-compatible backup of the expiry calendar.
	BackupEnabled         bool
	BackupBucket          string
	BackupEndpoint        string
	BackupAccessKeyID     string
	BackupSecretAccessKey string
	BackupRegion          string
	BackupRetentionDays   int
}

// Load reads configuration from a .env file (if present) and the process
// environment, applying defaults, then validates required fields.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		DataDir:  getEnv("DATA_DIR", "./data"),

		UpstreamHost:     getEnv("UPSTREAM_HOST", "127.0.0.1"),
		UpstreamPort:     getEnvAsInt("UPSTREAM_PORT", 7497),
		UpstreamClientID: getEnvAsInt("UPSTREAM_CLIENT_ID", 1),
		UpstreamUsername: getEnv("UPSTREAM_USERNAME", ""),
		UpstreamPassword: getEnv("UPSTREAM_PASSWORD", ""),

		CacheMaxBars: getEnvAsInt("CACHE_MAX_BARS", 2_000_000),

		CoordinatorSlots:          getEnvAsInt("COORDINATOR_SLOTS", 50),
		CoordinatorRatePerWindow:  getEnvAsInt("COORDINATOR_RATE_PER_WINDOW", 50),
		CoordinatorRateWindow:     getEnvAsDuration("COORDINATOR_RATE_WINDOW", 10*time.Second),
		CoordinatorPerContractQPS: getEnvAsInt("COORDINATOR_PER_CONTRACT_QPS", 6),
		RequestTimeout:            getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),

		CalendarTTL: getEnvAsDuration("CALENDAR_TTL", 24*time.Hour),

		BackupEnabled:         getEnvAsBool("BACKUP_ENABLED", false),
		BackupBucket:          getEnv("BACKUP_BUCKET", ""),
		BackupEndpoint:        getEnv("BACKUP_ENDPOINT", ""),
		BackupAccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
		BackupSecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
		BackupRegion:          getEnv("BACKUP_REGION", "auto"),
		BackupRetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that credentials and required fields are usable before
// the process starts accepting requests.
func (c *Config) Validate() error {
	if c.UpstreamHost == "" {
		return fmt.Errorf("config: UPSTREAM_HOST must not be empty")
	}
	if c.UpstreamPort <= 0 {
		return fmt.Errorf("config: UPSTREAM_PORT must be positive, got %d", c.UpstreamPort)
	}
	if c.BackupEnabled {
		if c.BackupBucket == "" {
			return fmt.Errorf("config: BACKUP_BUCKET is required when BACKUP_ENABLED=true")
		}
		if c.BackupAccessKeyID == "" || c.BackupSecretAccessKey == "" {
			return fmt.Errorf("config: BACKUP_ACCESS_KEY_ID/BACKUP_SECRET_ACCESS_KEY are required when BACKUP_ENABLED=true")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
