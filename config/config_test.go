package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	SetDefaults(v)
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadWithViper(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, "curio.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Queue.MaxConcurrentJobs)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, "fixed", cfg.Queue.Backoff)
	assert.Equal(t, 30*time.Second, cfg.Queue.RetryDelay())
	assert.Equal(t, 5*time.Minute, cfg.Queue.JobTimeout())
	assert.Equal(t, time.Hour, cfg.Queue.CleanupInterval())
	assert.Equal(t, 168*time.Hour, cfg.Queue.Retention())
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "curio.toml")
	content := `
[queue]
max_concurrent_jobs = 8
backoff = "exponential"
retry_delay_seconds = 10

[cache]
backend = "redis"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Queue.MaxConcurrentJobs)
	assert.Equal(t, "exponential", cfg.Queue.Backoff)
	assert.Equal(t, 10*time.Second, cfg.Queue.RetryDelay())
	// Unset values still fall back to defaults
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, "redis", cfg.Cache.Backend)
}

func TestValidate(t *testing.T) {
	t.Run("rejects zero workers", func(t *testing.T) {
		v := newTestViper()
		v.Set("queue.max_concurrent_jobs", 0)
		_, err := LoadWithViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_concurrent_jobs")
	})

	t.Run("rejects unknown backoff", func(t *testing.T) {
		v := newTestViper()
		v.Set("queue.backoff", "fibonacci")
		_, err := LoadWithViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "backoff")
	})

	t.Run("rejects unknown cache backend", func(t *testing.T) {
		v := newTestViper()
		v.Set("cache.backend", "memcached")
		_, err := LoadWithViper(v)
		require.Error(t, err)
	})

	t.Run("max_retries zero is allowed", func(t *testing.T) {
		v := newTestViper()
		v.Set("queue.max_retries", 0)
		cfg, err := LoadWithViper(v)
		require.NoError(t, err)
		assert.Equal(t, 0, cfg.Queue.MaxRetries)
	})
}
