package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	require.Equal(t, 1, cfg.Peripherals.Count)
	require.Equal(t, 32, cfg.Queues.Position)
	require.Equal(t, 16, cfg.Queues.Sensor)
	require.Equal(t, 4, cfg.Queues.Battery)
	require.Equal(t, 5, cfg.Queues.Command)
	require.Equal(t, 100*time.Millisecond, cfg.Queues.EnqueueTimeout)
	require.True(t, cfg.Features.Battery)
	require.False(t, cfg.Features.Sensors)
	require.False(t, cfg.Features.Indicators)
	require.Equal(t, 2, cfg.Conn.MinSecurity)
	require.Equal(t, 30*time.Millisecond, cfg.Conn.Interval)
	require.Empty(t, cfg.Redis.Addr)

	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
peripherals:
  count: 2
  addresses:
    - "C0:11:22:33:44:55"
features:
  battery: false
  sensors: true
queues:
  command: 8
connection:
  min_security: 3
redis:
  addr: "localhost:6379"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 2, cfg.Peripherals.Count)
	require.Equal(t, []string{"C0:11:22:33:44:55"}, cfg.Peripherals.Addresses)
	require.False(t, cfg.Features.Battery)
	require.True(t, cfg.Features.Sensors)
	require.Equal(t, 8, cfg.Queues.Command)
	require.Equal(t, 3, cfg.Conn.MinSecurity)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)

	// Untouched fields keep their defaults.
	require.Equal(t, 32, cfg.Queues.Position)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero peripherals", "peripherals:\n  count: 0\n"},
		{"too many addresses", "peripherals:\n  count: 1\n  addresses: [\"a\", \"b\"]\n"},
		{"zero command queue", "queues:\n  command: 0\n"},
		{"security out of range", "connection:\n  min_security: 5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
