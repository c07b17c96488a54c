package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ProviderBaseURL string
	ProviderAPIKey  string
	ProviderRPS     int
	RequestTimeout  int // seconds

	SyncBatchSize int // candles fetched per provider window

	HorizonShort  time.Duration
	HorizonMedium time.Duration
	HorizonLong   time.Duration
	NoiseFloorPct float64 // percent of entry price treated as noise
	LabelMultiple float64 // threshold = noise floor * multiple
	LabelWorkers  int
	LabelBatch    int // snapshots per sweep

	LogLevel string
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	cfg := &Config{
		DBHost:     getEnvWithDefault("DB_HOST", "localhost"),
		DBPort:     getEnvWithDefault("DB_PORT", "5432"),
		DBUser:     getEnvWithDefault("DB_USER", "postgres"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnvWithDefault("DB_NAME", "regime_tracker"),
		DBSSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),

		ProviderBaseURL: getEnvWithDefault("PROVIDER_BASE_URL", "http://localhost:8040"),
		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
		ProviderRPS:     getEnvIntWithDefault("PROVIDER_RPS", 5),
		RequestTimeout:  getEnvIntWithDefault("REQUEST_TIMEOUT", 30),

		SyncBatchSize: getEnvIntWithDefault("SYNC_BATCH_SIZE", 500),

		HorizonShort:  getEnvDurationWithDefault("HORIZON_SHORT", 4*time.Hour),
		HorizonMedium: getEnvDurationWithDefault("HORIZON_MEDIUM", 24*time.Hour),
		HorizonLong:   getEnvDurationWithDefault("HORIZON_LONG", 72*time.Hour),
		NoiseFloorPct: getEnvFloatWithDefault("NOISE_FLOOR_PCT", 1.0),
		LabelMultiple: getEnvFloatWithDefault("LABEL_MULTIPLE", 2.0),
		LabelWorkers:  getEnvIntWithDefault("LABEL_WORKERS", 4),
		LabelBatch:    getEnvIntWithDefault("LABEL_BATCH", 200),

		LogLevel: getEnvWithDefault("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
