// SPDX-License-Identifier: Apache-2.0

// Package db wraps *sql.DB with retry-with-backoff on the transient
// Postgres errors classified by internal/errkind.
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/cloudflare/backoff"

	"github.com/partmove/partmove/internal/errkind"
)

const (
	maxBackoffDuration = 16 * time.Second
	backoffInterval    = 1 * time.Second
	maxRetries         = 3
)

// DB is the subset of *sql.DB operations the engine needs, abstracted so
// tests can substitute a fake.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error
	Close() error
}

// RDB wraps a *sql.DB and retries ExecContext, QueryContext, and whole
// transactions up to maxRetries times with exponential backoff when the
// error is classified transient. QueryRowContext is passed through
// without retry.
type RDB struct {
	DB *sql.DB
}

func (db *RDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		res, err := db.DB.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt == maxRetries || !errkind.IsTransient(err) {
			return nil, err
		}
		if err := sleepCtx(ctx, b.Duration()); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (db *RDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		rows, err := db.DB.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}
		lastErr = err

		if attempt == maxRetries || !errkind.IsTransient(err) {
			return nil, err
		}
		if err := sleepCtx(ctx, b.Duration()); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (db *RDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.DB.QueryRowContext(ctx, query, args...)
}

// WithRetryableTransaction runs f in a transaction, retrying the whole
// transaction on a transient error.
func (db *RDB) WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		tx, err := db.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		err = f(ctx, tx)
		if err == nil {
			return tx.Commit()
		}

		if rbErr := tx.Rollback(); rbErr != nil {
			return rbErr
		}

		if attempt == maxRetries || !errkind.IsTransient(err) {
			return err
		}
		if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
			return sleepErr
		}
	}
	return nil
}

func (db *RDB) Close() error {
	return db.DB.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ScanFirstValue scans the single column of the first row of rows into dest.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}
