// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/partmove/partmove/pkg/model"
)

// logQueueCapacity bounds the in-memory log queue; once full, the oldest
// unflushed entry is dropped rather than blocking the caller, so a slow
// disk never interrupts the run.
const logQueueCapacity = 2048

// LogRepository is a bounded, best-effort append-only writer for
// structured log entries: writes never block the worker and never
// interrupt a run, they only degrade.
type LogRepository struct {
	db *sql.DB

	mu     sync.Mutex
	queue  []model.LogEntry
	notify chan struct{}
	done   chan struct{}
	closed bool
}

// NewLogRepository starts the background flush loop for db.
func NewLogRepository(db *sql.DB) *LogRepository {
	r := &LogRepository{
		db:     db,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// WriteLog implements logging.Sink: it enqueues entry without blocking.
func (r *LogRepository) WriteLog(entry model.LogEntry) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if len(r.queue) >= logQueueCapacity {
		r.queue = r.queue[1:] // drop oldest
	}
	r.queue = append(r.queue, entry)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *LogRepository) flushLoop() {
	for {
		select {
		case <-r.notify:
			r.flush()
		case <-r.done:
			r.flush() // drain whatever is left before exiting
			return
		}
	}
}

func (r *LogRepository) flush() {
	r.mu.Lock()
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := r.appendBatch(batch); err != nil {
		// Log-write failures degrade to stderr and never interrupt the run.
		fmt.Fprintf(os.Stderr, "partmove: log flush failed: %v\n", err)
	}
}

func (r *LogRepository) appendBatch(entries []model.LogEntry) error {
	tx, err := r.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO logs (run_session_id, ts, level, component, message) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.RunSessionID, e.Timestamp, string(e.Level), e.Component, e.Message); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// ForSession returns every log entry for a session, oldest first.
func (r *LogRepository) ForSession(ctx context.Context, sessionID string) ([]model.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_session_id, ts, level, component, message FROM logs
		WHERE run_session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing logs for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var level string
		if err := rows.Scan(&e.RunSessionID, &e.Timestamp, &level, &e.Component, &e.Message); err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}
		e.Level = model.LogLevel(level)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close signals the flush loop to drain the queue and stop.
func (r *LogRepository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	return nil
}
