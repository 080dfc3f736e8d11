package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.TCPPort)
	assert.Equal(t, DriverSurreal, cfg.Store.Driver)
	assert.Equal(t, "gpsdatas", cfg.Store.FixCollection)
	assert.True(t, cfg.Relay.AckEnabled)
	assert.True(t, cfg.Relay.GeoProjection)
	assert.Equal(t, 5*time.Second, cfg.Relay.FrameTimeout)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TCP_PORT", "5000")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ACK_ENABLED", "false")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("MAX_FRAME_BYTES", "1024")
	t.Setenv("FRAME_TIMEOUT", "250ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.TCPPort)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.False(t, cfg.Relay.AckEnabled)
	assert.Equal(t, 3*time.Second, cfg.Relay.WriteTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 1024, cfg.Relay.MaxFrameBytes)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.FrameTimeout)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tcp_port: "4100"
relay:
  geo_projection: false
  write_timeout: 2s
store:
  driver: postgres
  fix_collection: fixes
nats:
  url: nats://localhost:4222
`), 0o600))
	t.Setenv("FIX_COLLECTION", "fixes_env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "4100", cfg.TCPPort)
	assert.False(t, cfg.Relay.GeoProjection)
	assert.Equal(t, 2*time.Second, cfg.Relay.WriteTimeout)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "fixes_env", cfg.Store.FixCollection)
	assert.Equal(t, "gpsgeodatas", cfg.Store.GeoCollection)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "gps", cfg.NATS.SubjectPrefix)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STORE_DRIVER", "mongo"},
		{"ACK_ENABLED", "maybe"},
		{"WRITE_TIMEOUT", "soon"},
		{"REDIS_DB", "zero"},
		{"MAX_FRAME_BYTES", "-1"},
		{"STORE_TIMEOUT", "-1s"},
		{"FRAME_TIMEOUT", "-1s"},
	}

	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
