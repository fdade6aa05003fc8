// SPDX-License-Identifier: Apache-2.0

// Package store is the local embedded metadata store: profiles,
// migration_runs, checkpoints, and logs, persisted with a pure-Go SQLite
// driver and versioned with embedded golang-migrate migrations, one
// repository struct per table.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the local metadata store. WithTx is a thin unit-of-work wrapper
// around *sql.Tx; the repositories issue their single-statement writes
// directly on the shared connection, and the log writer batches its
// inserts in its own transaction.
type Store struct {
	db *sql.DB

	Profiles    *ProfileRepository
	Runs        *RunRepository
	Checkpoints *CheckpointRepository
	Logs        *LogRepository
}

// Open opens (creating if necessary) the SQLite database at path and
// migrates it to the latest schema version.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite: serialize writers through a single connection

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	s.Profiles = &ProfileRepository{db: db}
	s.Runs = &RunRepository{db: db}
	s.Checkpoints = &CheckpointRepository{db: db}
	s.Logs = NewLogRepository(db)

	return s, nil
}

func migrateSchema(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: "partmove_schema_migrations"})
	if err != nil {
		return fmt.Errorf("creating sqlite migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying schema migrations: %w", err)
	}
	return nil
}

// WithTx runs f inside a transaction, committing on success and rolling
// back on any error f returns.
func (s *Store) WithTx(ctx context.Context, f func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Close drains the log writer and closes the underlying database, in that
// order.
func (s *Store) Close() error {
	if err := s.Logs.Close(); err != nil {
		return err
	}
	return s.db.Close()
}
