package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWith("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.Locks.GuardDirectEdits)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "easel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
store:
  driver: sqlite
  dsn: /tmp/easel.db
sandbox:
  backend: lua
  timeout: 500ms
patch:
  ttl: 10m
locks:
  guardDirectEdits: false
`), 0o644))

	cfg, err := LoadWith(path, env(map[string]string{
		"EASEL_ADDR":           ":7070",
		"EASEL_AGENT_PROVIDER": "openai",
		"EASEL_PATCH_TTL":      "5m",
		"EASEL_LOG_LEVEL":      "DEBUG",
		"EASEL_REDIS_DB":       "2",
		"OPENAI_API_KEY":       " sk-test ",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr, "env wins over file")
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "lua", cfg.Sandbox.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Sandbox.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Patch.TTL)
	assert.False(t, cfg.Locks.GuardDirectEdits)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "openai", cfg.Agent.Provider)
	assert.Equal(t, time.Minute, cfg.Patch.SweepInterval, "unset keys keep defaults")
	assert.Equal(t, "sk-test", cfg.APIKey(env(map[string]string{"OPENAI_API_KEY": " sk-test "})))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"Unknown Driver", map[string]string{"EASEL_STORE_DRIVER": "postgres"}, "Store.Driver"},
		{"Sqlite Without DSN", map[string]string{"EASEL_STORE_DRIVER": "sqlite"}, "Store.DSN"},
		{"Unknown Backend", map[string]string{"EASEL_SANDBOX_BACKEND": "python"}, "Sandbox.Backend"},
		{"Bad Duration", map[string]string{"EASEL_PATCH_TTL": "soon"}, "EASEL_PATCH_TTL"},
		{"Bad Bool", map[string]string{"EASEL_GUARD_DIRECT_EDITS": "maybe"}, "EASEL_GUARD_DIRECT_EDITS"},
		{"Too Many Attempts", map[string]string{"EASEL_AGENT_MAX_ATTEMPTS": "50"}, "Agent.MaxAttempts"},
		{"Bad Base URL", map[string]string{"EASEL_AGENT_BASE_URL": "not a url"}, "Agent.BaseURL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWith("", env(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("Missing File", func(t *testing.T) {
		_, err := LoadWith(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
		assert.Error(t, err)
	})
}
