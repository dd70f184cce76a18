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
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "file:resourcemap.db", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, "default", cfg.Database.Isolation)
	assert.Equal(t, "localhost:3000", cfg.Server.Address())
	assert.Empty(t, cfg.Server.APIPrefix)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Development)
	assert.Equal(t, 100, cfg.Pagination.DefaultLimit)
}

func TestLoadWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
database:
  driver: pgx
  url: postgres://localhost/company
  conn_max_lifetime: 5m
  isolation: serializable
server:
  host: 0.0.0.0
  port: 8080
  api_prefix: /api
log:
  level: debug
  development: true
pagination:
  default_limit: 25
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resourcemap.yaml"), []byte(content), 0o644))

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/company", cfg.Database.URL)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, "serializable", cfg.Database.Isolation)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, "/api", cfg.Server.APIPrefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, 25, cfg.Pagination.DefaultLimit)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resourcemap.yaml"), []byte("server:\n  port: 8080\n"), 0o644))

	t.Setenv("RESOURCEMAP_SERVER_PORT", "9090")
	t.Setenv("RESOURCEMAP_DATABASE_URL", "file::memory:")
	t.Setenv("RESOURCEMAP_PAGINATION_DEFAULT_LIMIT", "7")
	t.Setenv("RESOURCEMAP_DATABASE_ISOLATION", "read_committed")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "file::memory:", cfg.Database.URL)
	assert.Equal(t, 7, cfg.Pagination.DefaultLimit)
	assert.Equal(t, "read_committed", cfg.Database.Isolation)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown driver", "database:\n  driver: mysql\n", "database.driver"},
		{"unknown isolation", "database:\n  isolation: snapshot\n", "database.isolation"},
		{"prefix without slash", "server:\n  api_prefix: api\n", "must start with '/'"},
		{"prefix with trailing slash", "server:\n  api_prefix: /api/\n", "must not end with '/'"},
		{"port out of range", "server:\n  port: 70000\n", "server.port"},
		{"zero page size", "pagination:\n  default_limit: 0\n", "pagination.default_limit"},
		{"malformed yaml", "server: [", "failed to read config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "resourcemap.yaml"), []byte(tt.content), 0o644))
			_, err := LoadFrom(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
