package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/conduit-lang/resourcemap/internal/config"
	"github.com/conduit-lang/resourcemap/internal/orm/query"
)

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"file:app.db", "file:app.db?_busy_timeout=5000&_foreign_keys=on"},
		{":memory:", ":memory:?_busy_timeout=5000&_foreign_keys=on"},
		{"file:app.db?cache=shared", "file:app.db?_busy_timeout=5000&_foreign_keys=on&cache=shared"},
		{"file:app.db?_fk=0&_timeout=10", "file:app.db?_fk=0&_timeout=10"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SQLiteDSN(tt.dsn), tt.dsn)
	}
}

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.DatabaseConfig{
		Driver:       "sqlite3",
		URL:          "file:" + filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 4,
	}

	db, dialect, err := Open(ctx, cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, query.SQLite, dialect)
	assert.Equal(t, 4, db.Stats().MaxOpenConnections)

	var fk int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpenInMemoryUsesOneConnection(t *testing.T) {
	db, _, err := Open(context.Background(), config.DatabaseConfig{
		Driver:       "sqlite3",
		URL:          ":memory:",
		MaxOpenConns: 10,
	}, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql", URL: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}
