package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Open connects to Postgres for postgres:// URLs and to SQLite for sqlite:
// or file: URLs, and reports which dialect the store should speak.
func Open(ctx context.Context, databaseURL string) (*sql.DB, Dialect, error) {
	dialect, driver, dsn, err := resolveURL(databaseURL)
	if err != nil {
		return nil, Dialect{}, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, Dialect{}, fmt.Errorf("open db: %w", err)
	}
	if dialect.Name == sqliteDialect.Name {
		// single writer; the idle connection also keeps :memory: databases alive
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, Dialect{}, fmt.Errorf("ping db: %w", err)
	}
	if dialect.Name == sqliteDialect.Name {
		for _, pragma := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, Dialect{}, fmt.Errorf("set pragma: %w", err)
			}
		}
	}
	return db, dialect, nil
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL;",
	"PRAGMA synchronous = NORMAL;",
	"PRAGMA busy_timeout = 5000;",
}

func resolveURL(databaseURL string) (Dialect, string, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresDialect, "pgx", databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return sqliteDialect, "sqlite", strings.TrimPrefix(strings.TrimPrefix(databaseURL, "sqlite:"), "//"), nil
	case strings.HasPrefix(databaseURL, "file:"):
		return sqliteDialect, "sqlite", databaseURL, nil
	default:
		return Dialect{}, "", "", fmt.Errorf("unsupported database url %q", databaseURL)
	}
}
