package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("AUTOCARE_TEST_KEY", "secret-key")

	path := writeConfig(t, `
storage:
  driver: SQLite
  path: "test.db"
api:
  enabled: true
  auth:
    enabled: true
    api_keys:
      - name: "portal"
        key: "${AUTOCARE_TEST_KEY}"
        extra: "x"
sync:
  max_retries: 3
  initial_delay: 500ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "test.db", cfg.Storage.Path)
	require.Len(t, cfg.API.Auth.APIKeys, 1)
	assert.Equal(t, "secret-key", cfg.API.Auth.APIKeys[0].Key)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.InitialDelay)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "autocare", cfg.App.Name)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "data/autocare.db", cfg.Storage.Path)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, 8081, cfg.API.GRPC.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, "autocare:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "autocare:sync:queue", cfg.Sync.QueueKey)
	assert.Equal(t, 2.0, cfg.Sync.BackoffFactor)
	assert.Equal(t, "Requests", cfg.Google.SheetName)
	assert.False(t, cfg.Telegram.Enabled())
	assert.False(t, cfg.Google.Enabled())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Storage: StorageConfig{Driver: "memory"}}
		c.Sync.BackoffFactor = 2
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid memory", mutate: func(c *Config) {}, wantErr: false},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }, wantErr: true},
		{name: "redis without address", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: true},
		{name: "failover on memory", mutate: func(c *Config) { c.Storage.Failover = true }, wantErr: true},
		{
			name: "duplicate api key",
			mutate: func(c *Config) {
				c.API.Auth.Enabled = true
				c.API.Auth.APIKeys = []APIClientKey{{Name: "a", Key: "k"}, {Name: "b", Key: "k"}}
			},
			wantErr: true,
		},
		{name: "bad backoff", mutate: func(c *Config) { c.Sync.BackoffFactor = 0.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
