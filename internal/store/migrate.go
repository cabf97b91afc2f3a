package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// migrationProvider must not be closed: Provider.Close closes db.
func migrationProvider(db *sql.DB, dialect Dialect) (*goose.Provider, error) {
	dir, err := fs.Sub(migrationsFS, dialect.migrations)
	if err != nil {
		return nil, fmt.Errorf("open %s migrations: %w", dialect.Name, err)
	}
	provider, err := goose.NewProvider(goose.Dialect(dialect.Name), db, dir)
	if err != nil {
		return nil, fmt.Errorf("migration provider: %w", err)
	}
	return provider, nil
}

// ApplyMigrations brings the records schema up to date for the given dialect.
func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	provider, err := migrationProvider(db, dialect)
	if err != nil {
		return err
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// MigrationVersion reports the latest applied migration.
func MigrationVersion(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	provider, err := migrationProvider(db, dialect)
	if err != nil {
		return 0, err
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	return version, nil
}
