package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Bus.MaxRetries)
	assert.Equal(t, time.Second, cfg.Bus.BaseBackoff)
	assert.Equal(t, 30*time.Second, cfg.Bus.MaxBackoff)
	assert.Equal(t, 4, cfg.Bus.Concurrency)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, slog.LevelInfo, cfg.Log.Level)
	assert.Equal(t, "agentbus.ingress", cfg.PubSub.IngressTopic)
}

func TestLoadConfig_Layers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: text
bus:
  max_retries: 5
  base_backoff: 250ms
store:
  driver: journal
  path: /var/lib/agentbus
`), 0o644))

	t.Setenv("AGENTBUS_BUS_CONCURRENCY", "8")

	cfg, err := LoadConfig(path, "--bus.max_retries=7", "--http.addr=:9090")
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 250*time.Millisecond, cfg.Bus.BaseBackoff)
	assert.Equal(t, 8, cfg.Bus.Concurrency, "environment beats defaults")
	assert.Equal(t, 7, cfg.Bus.MaxRetries, "flags beat the file")
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "journal", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/agentbus", cfg.Store.Path)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("AGENTBUS_STORE_DRIVER", "redis")
	t.Setenv("AGENTBUS_BUS_CONCURRENCY", "0")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "bus.concurrency")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
