// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for databases and state files (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	WriteDBPath string // Ingestion-side database (raw ticks + aggregates)
	ReadDBPath  string // Serving-side database (projections + caches)

	MinuteAggInterval time.Duration // Raw -> 1m roll-up cadence
	HourAggInterval   time.Duration // 1m -> 1h roll-up cadence
	RawRetention      time.Duration // How long raw ticks outlive aggregation

	ReconnectDelay       time.Duration
	ReconnectMaxAttempts int

	MinuteRetentionDays int
	HourRetentionDays   int
	StabilityMinScore   int // Arbitrage rows with at least this many agreeing windows are "stable"
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("PERPTRACK_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PERPTRACK_PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		WriteDBPath: getEnv("WRITE_DB_PATH", filepath.Join(absDataDir, "write.db")),
		ReadDBPath:  getEnv("READ_DB_PATH", filepath.Join(absDataDir, "read.db")),

		MinuteAggInterval: getEnvAsMillis("MINUTE_AGG_INTERVAL_MS", 300_000),
		HourAggInterval:   getEnvAsMillis("HOUR_AGG_INTERVAL_MS", 3_600_000),
		RawRetention:      time.Duration(getEnvAsInt("RAW_RETENTION_SECONDS", 300)) * time.Second,

		ReconnectDelay:       getEnvAsMillis("RECONNECT_DELAY_MS", 5_000),
		ReconnectMaxAttempts: getEnvAsInt("RECONNECT_MAX_ATTEMPTS", 10),

		MinuteRetentionDays: getEnvAsInt("MINUTE_RETENTION_DAYS", 30),
		HourRetentionDays:   getEnvAsInt("HOUR_RETENTION_DAYS", 365),
		StabilityMinScore:   getEnvAsInt("STABILITY_MIN_SCORE", 4),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if configuration values are usable
func (c *Config) Validate() error {
	if c.MinuteAggInterval <= 0 {
		return fmt.Errorf("minute aggregation interval must be positive, got %s", c.MinuteAggInterval)
	}
	if c.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("reconnect max attempts must be at least 1, got %d", c.ReconnectMaxAttempts)
	}
	if c.WriteDBPath == c.ReadDBPath {
		return fmt.Errorf("write and read database paths must differ: %s", c.WriteDBPath)
	}
	if c.StabilityMinScore < 0 || c.StabilityMinScore > 5 {
		return fmt.Errorf("stability min score must be in [0,5], got %d", c.StabilityMinScore)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}
