// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/partmove/partmove/pkg/model"
)

// RunRepository persists MigrationRun history.
type RunRepository struct {
	db *sql.DB
}

// Create inserts a new run row with status running.
func (r *RunRepository) Create(ctx context.Context, profileID string, sessionID string, totalPartitions int) (model.MigrationRun, error) {
	run := model.MigrationRun{
		ID:              uuid.NewString(),
		ProfileID:       profileID,
		SessionID:       sessionID,
		Status:          model.RunStatusRunning,
		StartedAt:       time.Now().UTC(),
		TotalPartitions: totalPartitions,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO migration_runs (id, profile_id, session_id, status, started_at, total_partitions)
		VALUES (?,?,?,?,?,?)`,
		run.ID, run.ProfileID, run.SessionID, string(run.Status), run.StartedAt, run.TotalPartitions,
	)
	if err != nil {
		return model.MigrationRun{}, fmt.Errorf("inserting run: %w", err)
	}
	return run, nil
}

// UpdateProgress advances done-partition and row counters.
func (r *RunRepository) UpdateProgress(ctx context.Context, runID string, donePartitions int, totalRows int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE migration_runs SET done_partitions = ?, total_rows = ? WHERE id = ?`,
		donePartitions, totalRows, runID,
	)
	if err != nil {
		return fmt.Errorf("updating run progress %s: %w", runID, err)
	}
	return nil
}

// Finish marks a run terminal, recording the end time and, on failure, the
// error message. Partial success is first-class: a run can finish
// completed with zero partitions, or failed after N succeeded.
func (r *RunRepository) Finish(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`UPDATE migration_runs SET status = ?, ended_at = ?, error_message = ? WHERE id = ?`,
		string(status), now, errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	return nil
}

// SetStatus updates only the status column, used for pause/resume which
// don't end the run.
func (r *RunRepository) SetStatus(ctx context.Context, runID string, status model.RunStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE migration_runs SET status = ? WHERE id = ?`, string(status), runID)
	if err != nil {
		return fmt.Errorf("updating run status %s: %w", runID, err)
	}
	return nil
}

// Get returns a run by id.
func (r *RunRepository) Get(ctx context.Context, runID string) (model.MigrationRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, profile_id, session_id, status, started_at, ended_at, total_partitions, done_partitions, total_rows, error_message
		FROM migration_runs WHERE id = ?`, runID)

	var run model.MigrationRun
	var status string
	var endedAt sql.NullTime
	err := row.Scan(&run.ID, &run.ProfileID, &run.SessionID, &status, &run.StartedAt, &endedAt,
		&run.TotalPartitions, &run.DonePartitions, &run.TotalRows, &run.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MigrationRun{}, ErrNotFound
	}
	if err != nil {
		return model.MigrationRun{}, fmt.Errorf("loading run %s: %w", runID, err)
	}
	run.Status = model.RunStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	return run, nil
}

// IncompleteFor returns the most recent run for a profile whose status is
// running, paused, or failed, or ErrNotFound if there is none. The status
// command uses it to show an interrupted run.
func (r *RunRepository) IncompleteFor(ctx context.Context, profileID string) (model.MigrationRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, profile_id, session_id, status, started_at, ended_at, total_partitions, done_partitions, total_rows, error_message
		FROM migration_runs
		WHERE profile_id = ? AND status IN ('running', 'paused', 'failed')
		ORDER BY started_at DESC
		LIMIT 1`, profileID)

	var run model.MigrationRun
	var status string
	var endedAt sql.NullTime
	err := row.Scan(&run.ID, &run.ProfileID, &run.SessionID, &status, &run.StartedAt, &endedAt,
		&run.TotalPartitions, &run.DonePartitions, &run.TotalRows, &run.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MigrationRun{}, ErrNotFound
	}
	if err != nil {
		return model.MigrationRun{}, fmt.Errorf("loading incomplete run for profile %s: %w", profileID, err)
	}
	run.Status = model.RunStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	return run, nil
}
