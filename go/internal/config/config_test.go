package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watchparty.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
log_level: debug
room_timezone: America/New_York
store:
  driver: redis
  redis_url: redis://cache:6379/1
sync:
  drift_threshold: 1.5
  timing_interval: 1s
nats:
  url: nats://nats:4222
events:
  - id: premiere
    title: Premiere
    date: 2026-03-14T19:00:00Z
    end: 2026-03-14T21:00:00Z
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
	assert.Equal(t, "America/New_York", cfg.Location().String())
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis://cache:6379/1", cfg.Store.RedisURL)
	assert.Equal(t, 1.5, cfg.Sync.DriftThreshold)
	assert.Equal(t, time.Second, cfg.Sync.TimingInterval)
	assert.Equal(t, 10*time.Second, cfg.Sync.PresenceInterval, "unset keys keep defaults")
	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, "WATCHPARTY_EVENTS", cfg.NATS.Stream)
	require.Len(t, cfg.Events, 1)
	assert.Equal(t, "premiere", cfg.Events[0].ID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "catalog:\n  file: events.yaml\n")
	t.Setenv("PORT", "7000")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("SYNC_MAX_ATTEMPTS", "5")
	t.Setenv("CALENDAR_API_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Sync.MaxAttempts)
	assert.Equal(t, "secret", cfg.Catalog.APIKey)
	assert.False(t, cfg.NATS.Enabled())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown driver", body: "store:\n  driver: mongo\ncatalog:\n  file: e.yaml\n"},
		{name: "bad timezone", body: "room_timezone: Mars/Olympus\ncatalog:\n  file: e.yaml\n"},
		{name: "bad log level", body: "log_level: loud\ncatalog:\n  file: e.yaml\n"},
		{name: "no catalog", body: "port: \"8080\"\n"},
		{name: "malformed yaml", body: "store: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
