package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scorypto/innovriddhi-location-server/internal/config"
	"github.com/scorypto/innovriddhi-location-server/internal/transport"
)

// Config is the agent configuration file.
type Config struct {
	Settings Settings        `yaml:"settings"`
	Device   DeviceConfig    `yaml:"device"`
	Queue    QueueConfig     `yaml:"queue"`
	Delivery DeliveryConfig  `yaml:"delivery"`
	Simulate *SimulateConfig `yaml:"simulate"`
}

// Settings holds global application settings.
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// DeviceConfig identifies the field device this agent runs on.
type DeviceConfig struct {
	ID string `yaml:"id"`
}

// QueueConfig holds the offline queue settings.
type QueueConfig struct {
	DBPath   string `yaml:"dbPath"`
	Capacity int    `yaml:"capacity"`
}

// DeliveryConfig holds transport endpoints and the migration rollout.
// Devices inside RolloutPercent run in the configured mode; the rest
// stay on the legacy broker until the migration widens.
type DeliveryConfig struct {
	PrimaryEndpoint string          `yaml:"primaryEndpoint"`
	LegacyEndpoint  string          `yaml:"legacyEndpoint"`
	Mode            string          `yaml:"mode"`
	RolloutPercent  int             `yaml:"rolloutPercent"`
	MaxAttempts     int             `yaml:"maxAttempts"`
	FlushBudget     config.Duration `yaml:"flushBudget"`
}

// SimulateConfig drives the bundled location simulator. Absent in
// production, where the platform location service provides positions.
type SimulateConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Seed      int64   `yaml:"seed"`
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

	if cfg.Device.ID == "" {
		return nil, fmt.Errorf("device.id is required")
	}
	if cfg.Queue.DBPath == "" {
		return nil, fmt.Errorf("queue.dbPath is required")
	}
	if _, err = transport.ParseMode(cfg.Delivery.Mode); err != nil {
		return nil, fmt.Errorf("delivery.mode: %w", err)
	}
	if cfg.Delivery.FlushBudget <= 0 {
		cfg.Delivery.FlushBudget = config.Duration(15 * time.Second)
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
