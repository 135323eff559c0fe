// Package config provides configuration management for the qrem service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Distance metrics accepted by the constrained corrector.
const (
	DistanceSquaredL2 = "squared-l2"
	DistanceNLL       = "negative-log-likelihood"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the sqlite databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// Correction engine defaults. Per-request options override these.
	ExactModeThreshold   int     // Max full alphabet size for exact tensor composition
	SingularThreshold    float64 // Condition-number cutoff for cluster matrix inversion
	MaxIterations        int     // Constrained solver iteration budget
	ConvergenceTolerance float64 // 0 means: derive from the sample-complexity bound
	DistanceMetric       string  // squared-l2 or negative-log-likelihood
	MaxColumnDrift       float64 // Calibration column-sum drift beyond which data is rejected

	// Batch processing and maintenance.
	Workers             int // Worker pool size for batch corrections
	ResultRetentionDays int // Correction results older than this are pruned
}

// Load reads configuration from environment variables, with a .env file as
// fallback when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("QREM_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory %q: %w", dataDir, err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("QREM_LOG_LEVEL", "info"),
		DevMode:  getEnvBool("QREM_DEV_MODE", false),

		ExactModeThreshold:   getEnvInt("QREM_EXACT_MODE_THRESHOLD", 256),
		SingularThreshold:    getEnvFloat("QREM_SINGULAR_THRESHOLD", 1e8),
		MaxIterations:        getEnvInt("QREM_MAX_ITERATIONS", 10000),
		ConvergenceTolerance: getEnvFloat("QREM_CONVERGENCE_TOLERANCE", 0),
		DistanceMetric:       getEnv("QREM_DISTANCE_METRIC", DistanceSquaredL2),
		MaxColumnDrift:       getEnvFloat("QREM_MAX_COLUMN_DRIFT", 1e-6),

		Workers:             getEnvInt("QREM_WORKERS", 4),
		ResultRetentionDays: getEnvInt("QREM_RESULT_RETENTION_DAYS", 30),
	}

	cfg.Port = getEnvInt("QREM_PORT", 8000)
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}

	switch cfg.DistanceMetric {
	case DistanceSquaredL2, DistanceNLL:
	default:
		return nil, fmt.Errorf("unknown distance metric %q", cfg.DistanceMetric)
	}

	if cfg.ExactModeThreshold < 2 {
		return nil, fmt.Errorf("exact mode threshold %d must be at least 2", cfg.ExactModeThreshold)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("worker count %d must be at least 1", cfg.Workers)
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if the
// variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
