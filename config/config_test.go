package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volan/membership-engine/core"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for key := range defaults {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, core.FreezeDaysActiveOnly, cfg.Policy())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// GIVEN: A .env file setting HTTP_ADDR and DB_DSN, and HTTP_ADDR in the env
	// WHEN: Loading
	// THEN: The env wins for HTTP_ADDR, the file supplies DB_DSN

	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("HTTP_ADDR=:9000\nDB_DSN=/tmp/club.db\nMETRICS_ENABLED=false\n"), 0o600))
	t.Setenv("HTTP_ADDR", ":7000")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTPAddr)
	assert.Equal(t, "/tmp/club.db", cfg.DBDSN)
	assert.False(t, cfg.MetricsEnabled)
}

func TestLoad_RejectsUnknownPolicy(t *testing.T) {
	clearEnv(t)
	t.Setenv("FREEZE_DAYS_POLICY", "everything")

	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DRIVER", "oracle")

	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestAllowedOrigins(t *testing.T) {
	cfg := Config{CORSAllowedOrigins: " https://a.example , ,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
}
