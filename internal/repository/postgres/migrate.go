package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var schema embed.FS

// pgx5 driver of golang-migrate registers its own scheme
var migrateScheme = strings.NewReplacer(
	"postgresql://", "pgx5://",
	"postgres://", "pgx5://",
)

// ApplySchema brings credentials table up to the latest embedded version
func ApplySchema(dsn string) error {
	src, err := iofs.New(schema, "migrations")
	if err != nil {
		return fmt.Errorf("credentials schema: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateScheme.Replace(dsn))
	if err != nil {
		return fmt.Errorf("credentials schema: %w", err)
	}
	defer m.Close() // nolint:errcheck

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("credentials schema upgrade failed: %w", err)
	}
	return nil
}

// Open applies schema and returns a pool that already answered a ping
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if err := ApplySchema(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("credentials database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("credentials database unreachable: %w", err)
	}

	return pool, nil
}
