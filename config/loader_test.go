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
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.DefaultProvider)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 256, cfg.Cache.Capacity)
	assert.Equal(t, 24*time.Hour, cfg.Storage.MaxAge)
	assert.Equal(t, 8, cfg.Pool.MaxWorkers)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
default_provider: doubao
providers:
  doubao:
    type: doubao
    api_key: sk-test
    model: doubao-seedream-4.5
    sequential_mode: auto
    sequential_max_images: 4
  google:
    type: google
    api_keys:
      - key-1
      - key-2
    key_cooldown: 12h
rate_limit:
  window: 30m
  max_requests: 5
pool:
  max_workers: 2
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "doubao", cfg.DefaultProvider)
	require.Contains(t, cfg.Providers, "doubao")
	assert.Equal(t, "sk-test", cfg.Providers["doubao"].APIKey)
	assert.Equal(t, "auto", cfg.Providers["doubao"].SequentialMode)
	assert.Equal(t, 4, cfg.Providers["doubao"].SequentialMaxImages)
	assert.Equal(t, []string{"key-1", "key-2"}, cfg.Providers["google"].APIKeys)
	assert.Equal(t, 12*time.Hour, cfg.Providers["google"].KeyCooldown)
	assert.Equal(t, 30*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 2, cfg.Pool.MaxWorkers)

	// 文件没写的字段保留默认值
	assert.Equal(t, 256, cfg.Cache.Capacity)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.DefaultProvider)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{not yaml"), 0o644))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("IMAGEFLOW_DEFAULT_PROVIDER", "google")
	t.Setenv("IMAGEFLOW_RATE_LIMIT_MAX_REQUESTS", "3")
	t.Setenv("IMAGEFLOW_RATE_LIMIT_WINDOW", "90s")
	t.Setenv("IMAGEFLOW_RATE_LIMIT_ENABLED", "false")
	t.Setenv("IMAGEFLOW_REDIS_ADDR", "localhost:6379")
	t.Setenv("IMAGEFLOW_LOG_LEVEL", "debug")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "google", cfg.DefaultProvider)
	assert.Equal(t, 3, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 90*time.Second, cfg.RateLimit.Window)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_provider: zai\n"), 0o644))

	t.Setenv("IMAGEFLOW_DEFAULT_PROVIDER", "glm")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	// 环境变量优先于 YAML
	assert.Equal(t, "glm", cfg.DefaultProvider)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_LOG_FORMAT", "json")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("IMAGEFLOW_RATE_LIMIT_MAX_REQUESTS", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
}

func TestValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			if cfg.DefaultProvider == "openai" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
}

func TestMustLoadPanicsOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{not yaml"), 0o644))

	assert.Panics(t, func() { MustLoad(path) })
}
