// Package config reads the environment-driven settings shared by every
// entry point. Sweep-specific parameters come in through CLI flags instead;
// this layer only carries infrastructure wiring.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/norabelrose/elk/domain/core"
)

// Config is the complete environment configuration.
type Config struct {
	Database DatabaseConfig
	Paths    PathConfig
	Sweep    SweepConfig
}

// DatabaseConfig holds the optional result ledger connection.
type DatabaseConfig struct {
	// URL enables the PostgreSQL ledger when non-empty.
	URL string
}

// PathConfig holds filesystem locations.
type PathConfig struct {
	// ExtractionDir is where extracted activation splits live.
	ExtractionDir string
	// CheckpointDir receives reporter and baseline snapshots.
	CheckpointDir string
	// ExportFile enables the Excel export when non-empty.
	ExportFile string
}

// SweepConfig holds sweep defaults that flags may override.
type SweepConfig struct {
	Seed    int64
	Devices []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL: getEnvOrDefault("DATABASE_URL", ""),
		},
		Paths: PathConfig{
			ExtractionDir: getEnvOrDefault("ELK_EXTRACTION_DIR", "./extractions"),
			CheckpointDir: getEnvOrDefault("ELK_CHECKPOINT_DIR", "./checkpoints"),
			ExportFile:    getEnvOrDefault("ELK_EXPORT_FILE", ""),
		},
		Sweep: SweepConfig{
			Seed:    getEnvInt64OrDefault("ELK_SEED", 42),
			Devices: getEnvListOrDefault("ELK_DEVICES", []string{"cpu"}),
		},
	}

	if cfg.Paths.ExtractionDir == "" {
		return nil, core.NewConfigError("ELK_EXTRACTION_DIR must not be empty")
	}
	return cfg, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64OrDefault(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvListOrDefault(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
