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
	cfg, err := Load("OFFSHORE_TEST_DEFAULTS", "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("OFFSHORE_CACHE_TTL", "10m")
	t.Setenv("OFFSHORE_CACHE_BACKEND", "memory")
	t.Setenv("OFFSHORE_CACHE_MEMORY_SIZE", "64")
	t.Setenv("OFFSHORE_LOG_LEVEL", "DEBUG")

	cfg, err := Load("OFFSHORE", "")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 64, cfg.Cache.MemorySize)
	assert.Equal(t, "DEBUG", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "offshore.yaml")
	require.NoError(t, os.WriteFile(file, []byte("cache:\n  prefix: Q_\n  ttl: 30s\nlog:\n  format: json\n"), 0o600))

	cfg, err := Load("OFFSHORE_TEST_FILE", file)
	require.NoError(t, err)
	assert.Equal(t, "Q_", cfg.Cache.Prefix)
	assert.Equal(t, 30*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("OFFSHORE", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadUnknownBackend(t *testing.T) {
	t.Setenv("OFFSHORE_BAD_CACHE_BACKEND", "redis")
	_, err := Load("OFFSHORE_BAD", "")
	assert.Error(t, err)
}
