// Package db opens the database behind the entity manager
package db

import (
	"context"
	"database/sql"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/lib/pq"              // registers "postgres"
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcemap/internal/config"
	"github.com/conduit-lang/resourcemap/internal/orm/query"
)

// Open opens and pings the configured database and returns it with the SQL
// dialect of its driver. SQLite connections enforce foreign keys and wait on
// locks; in-memory SQLite databases are limited to one connection so every
// query sees the same database.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.SugaredLogger) (*sql.DB, query.Dialect, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	dialect, err := query.DialectFor(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}

	dsn := cfg.URL
	if dialect == query.SQLite {
		dsn = SQLiteDSN(dsn)
	}
	logger.Debugw("opening database", "driver", cfg.Driver)

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open database")
	}

	if dialect == query.SQLite && isMemory(cfg.URL) {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, errors.Wrap(err, "failed to ping database")
	}

	logger.Infow("database opened",
		"driver", cfg.Driver,
		"dialect", dialect.Name(),
		"max_open_conns", db.Stats().MaxOpenConnections,
	)
	return db, dialect, nil
}

// SQLiteDSN adds foreign key enforcement and a busy timeout to a SQLite
// data source name unless it sets them already
func SQLiteDSN(dsn string) string {
	base, rawQuery, _ := strings.Cut(dsn, "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return dsn
	}
	if params.Get("_foreign_keys") == "" && params.Get("_fk") == "" {
		params.Set("_foreign_keys", "on")
	}
	if params.Get("_busy_timeout") == "" && params.Get("_timeout") == "" {
		params.Set("_busy_timeout", "5000")
	}
	return base + "?" + params.Encode()
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
