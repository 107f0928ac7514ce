package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
device:
  id: dev-001
queue:
  dbPath: /tmp/queue.sqlite
  capacity: 2000
delivery:
  primaryEndpoint: https://ingest.example.com/v1/locations
  legacyEndpoint: https://broker.example.com/ingest
  mode: dual
  rolloutPercent: 25
simulate:
  latitude: -33.8688
  longitude: 151.2093
  seed: 42
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "dev-001", config.Device.ID)
	assert.Equal(t, 2000, config.Queue.Capacity)
	assert.Equal(t, "dual", config.Delivery.Mode)
	assert.Equal(t, 25, config.Delivery.RolloutPercent)
	assert.Equal(t, 15*time.Second, config.Delivery.FlushBudget.Std(), "flush budget defaults")
	require.NotNil(t, config.Simulate)
	assert.Equal(t, int64(42), config.Simulate.Seed)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing device id", "queue:\n  dbPath: /tmp/q.sqlite\ndelivery:\n  mode: dual\n"},
		{"missing queue path", "device:\n  id: dev-001\ndelivery:\n  mode: dual\n"},
		{"unknown mode", "device:\n  id: dev-001\nqueue:\n  dbPath: /tmp/q.sqlite\ndelivery:\n  mode: carrier-pigeon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
