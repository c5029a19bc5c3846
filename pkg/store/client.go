// Package store implements the outcome store: an append-only, concurrently
// readable, singly-writable record of every decision and its result.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver under database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps a pooled database/sql connection to the outcome database.
type Store struct {
	db *sql.DB
}

// DB returns the underlying connection pool, for health checks only.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Open connects to the outcome database, configures the pool, and applies
// any pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open outcome store: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping outcome store: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run outcome store migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// runMigrations applies every pending embedded migration. Migration files
// ship inside the binary via go:embed so a deployed medic never needs the
// source tree on disk.
func runMigrations(db *sql.DB, databaseName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Closing only the source driver: calling m.Close() would also close
	// the shared *sql.DB via the postgres driver, which this Store still
	// needs for the rest of its lifetime.
	return sourceDriver.Close()
}
