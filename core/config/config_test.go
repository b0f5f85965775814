package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "finsync.db", cfg.Database.Name)
	assert.Equal(t, 100, cfg.Remote.PageSize)
	assert.Equal(t, 300, cfg.Auth.RefreshMarginSeconds)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "stderr", cfg.Log.Output)
	assert.Equal(t, "finsync:changes", cfg.Notify.Channel)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	env := "REMOTE_BASE_URL=https://api.example.test/v2\nREMOTE_PAGE_SIZE=25\nAUTH_CLIENT_ID=host-app\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("REMOTE_BASE_URL")
		os.Unsetenv("REMOTE_PAGE_SIZE")
		os.Unsetenv("AUTH_CLIENT_ID")
	})

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.test/v2", cfg.Remote.BaseURL)
	assert.Equal(t, 25, cfg.Remote.PageSize)
	assert.Equal(t, "host-app", cfg.Auth.ClientID)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	yaml := "server:\n  port: \"9090\"\nremote:\n  page_size: 50\nnotify:\n  channel: bank:changes\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "finsync.yaml"), []byte(yaml), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 50, cfg.Remote.PageSize)
	assert.Equal(t, "bank:changes", cfg.Notify.Channel)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)
		return *cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"Defaults", func(*Config) {}, ""},
		{"Driver", func(c *Config) { c.Database.Driver = "postgres" }, "database.driver"},
		{"Format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"PageSize", func(c *Config) { c.Remote.PageSize = -1 }, "remote.page_size"},
		{"Interval", func(c *Config) { c.Server.RefreshIntervalSeconds = -5 }, "refresh_interval_seconds"},
		{"RedisURL", func(c *Config) { c.Notify.RedisURL = "localhost:6379" }, "notify.redis_url"},
		{"RedisTLS", func(c *Config) { c.Notify.RedisURL = "rediss://cache:6380/0" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
