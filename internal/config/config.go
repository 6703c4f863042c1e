package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Database Configuration
	Database DatabaseConfig

	// Ingestion Configuration
	Ingest IngestConfig

	// Remote (SFTP) Configuration
	Remote RemoteConfig

	// Offline / test-mode Configuration
	Offline OfflineConfig

	// Server Configuration
	Server ServerConfig

	// Log configuration
	LogLevel string
}

// DatabaseConfig contains database-related settings
type DatabaseConfig struct {
	Path         string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// IngestConfig contains the ingestion cycle settings
type IngestConfig struct {
	KillfeedInterval time.Duration // period of the free-tier killfeed cycle
	LogInterval      time.Duration // period of the premium-tier log cycle
	CycleTimeout     time.Duration // hard deadline for a single cycle
	BackfillDelay    time.Duration // auto-backfill delay after server registration
	ProgressInterval time.Duration // minimum gap between backfill progress reports
	FailureThreshold int           // consecutive remote failures before a server is flagged degraded
	SyncInterval     time.Duration // registry-to-scheduler reconciliation period
}

// RemoteConfig contains SFTP connection settings shared by all servers.
// Host and credentials are per-server and live in the registry.
type RemoteConfig struct {
	DialTimeout time.Duration
	MaxRetries  int // transient-failure retries within one cycle
}

// OfflineConfig contains the local fallback directory used when a
// server is registered in offline/test mode
type OfflineConfig struct {
	DataDir      string
	WatchEnabled bool // fsnotify nudging of the scheduler on file changes
}

// ServerConfig contains operational HTTP server settings
type ServerConfig struct {
	Host       string
	Port       int
	Production bool
}

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Path:         getEnv("DB_PATH", "deadfeed.db"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 3),
			ConnMaxLife:  getEnvAsDuration("DB_CONN_MAX_LIFE", time.Hour),
		},
		Ingest: IngestConfig{
			KillfeedInterval: getEnvAsDuration("KILLFEED_INTERVAL", 300*time.Second),
			LogInterval:      getEnvAsDuration("LOG_INTERVAL", 300*time.Second),
			CycleTimeout:     getEnvAsDuration("CYCLE_TIMEOUT", 120*time.Second),
			BackfillDelay:    getEnvAsDuration("BACKFILL_DELAY", 30*time.Second),
			ProgressInterval: getEnvAsDuration("BACKFILL_PROGRESS_INTERVAL", 30*time.Second),
			FailureThreshold: getEnvAsInt("CONN_FAILURE_THRESHOLD", 3),
			SyncInterval:     getEnvAsDuration("REGISTRY_SYNC_INTERVAL", 60*time.Second),
		},
		Remote: RemoteConfig{
			DialTimeout: getEnvAsDuration("SFTP_DIAL_TIMEOUT", 15*time.Second),
			MaxRetries:  getEnvAsInt("SFTP_MAX_RETRIES", 2),
		},
		Offline: OfflineConfig{
			DataDir:      getEnv("OFFLINE_DATA_DIR", "dev_data"),
			WatchEnabled: getEnvAsBool("OFFLINE_WATCH_ENABLED", true),
		},
		Server: ServerConfig{
			Host:       getEnv("SERVER_HOST", "0.0.0.0"),
			Port:       getEnvAsInt("SERVER_PORT", 8080),
			Production: getEnvAsBool("SERVER_PRODUCTION", false),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Helper functions to read environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
