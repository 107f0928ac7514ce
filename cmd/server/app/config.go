package app

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scorypto/innovriddhi-location-server/internal/config"
)

// Config is the server configuration file.
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Detection DetectionConfig `yaml:"detection"`
	Storage   StorageConfig   `yaml:"storage"`
}

// Settings holds global application settings.
type Settings struct {
	ListenAddr string `yaml:"listenAddr"`
	LogLevel   string `yaml:"logLevel"`
}

// IngestionConfig holds the gateway thresholds.
type IngestionConfig struct {
	SequenceGrace   uint64          `yaml:"sequenceGrace"`
	ClockSkew       config.Duration `yaml:"clockSkew"`
	DedupWindow     config.Duration `yaml:"dedupWindow"`
	DedupMaxEntries int             `yaml:"dedupMaxEntries"`
}

// DetectionConfig holds the drift filter and stoppage detector
// thresholds. Zero values fall back to package defaults.
type DetectionConfig struct {
	Lanes         int             `yaml:"lanes"`
	SweepInterval config.Duration `yaml:"sweepInterval"`

	MinStopDuration  config.Duration `yaml:"minStopDuration"`
	DebounceCount    int             `yaml:"debounceCount"`
	InactivityWindow config.Duration `yaml:"inactivityWindow"`

	DriftSpeedKPH      float64         `yaml:"driftSpeedKph"`
	AccuracyThresholdM float64         `yaml:"accuracyThresholdM"`
	DriftRadiusM       float64         `yaml:"driftRadiusM"`
	DriftWindow        config.Duration `yaml:"driftWindow"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

// LoadConfig reads and validates the YAML configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if cfg.Settings.ListenAddr == "" {
		cfg.Settings.ListenAddr = ":8080"
	}
	if cfg.Storage.DBPath == "" {
		return nil, fmt.Errorf("storage.dbPath is required")
	}

	return &cfg, nil
}

// Level parses the configured log level, defaulting to info.
func (s Settings) Level() (slog.Level, error) {
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("parsing log level: %w", err)
	}
	return level, nil
}
