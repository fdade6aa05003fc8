// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/partmove/partmove/pkg/model"
)

// CheckpointRepository persists per-partition progress within a run.
type CheckpointRepository struct {
	db *sql.DB
}

// Upsert inserts or updates the checkpoint for (runID, partitionName).
func (r *CheckpointRepository) Upsert(ctx context.Context, cp model.Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, partition_name, status, rows_copied, last_offset, updated_at, error)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (run_id, partition_name) DO UPDATE SET
			status = excluded.status,
			rows_copied = excluded.rows_copied,
			last_offset = excluded.last_offset,
			updated_at = excluded.updated_at,
			error = excluded.error`,
		cp.RunID, cp.PartitionName, string(cp.Status), cp.RowsCopied, cp.LastOffset, cp.UpdatedAt, cp.Error,
	)
	if err != nil {
		return fmt.Errorf("upserting checkpoint %s/%s: %w", cp.RunID, cp.PartitionName, err)
	}
	return nil
}

// Get returns the checkpoint for (runID, partitionName), or ErrNotFound if
// none exists yet (meaning the partition is effectively pending).
func (r *CheckpointRepository) Get(ctx context.Context, runID, partitionName string) (model.Checkpoint, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT run_id, partition_name, status, rows_copied, last_offset, updated_at, error
		FROM checkpoints WHERE run_id = ? AND partition_name = ?`, runID, partitionName)

	var cp model.Checkpoint
	var status string
	err := row.Scan(&cp.RunID, &cp.PartitionName, &status, &cp.RowsCopied, &cp.LastOffset, &cp.UpdatedAt, &cp.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("loading checkpoint %s/%s: %w", runID, partitionName, err)
	}
	cp.Status = model.CheckpointStatus(status)
	return cp, nil
}

// PendingFor returns the checkpoints for a run that are not yet completed,
// in insertion order, i.e. the partitions still to process.
func (r *CheckpointRepository) PendingFor(ctx context.Context, runID string) ([]model.Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, partition_name, status, rows_copied, last_offset, updated_at, error
		FROM checkpoints WHERE run_id = ? AND status != 'completed'
		ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing pending checkpoints for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []model.Checkpoint
	for rows.Next() {
		var cp model.Checkpoint
		var status string
		if err := rows.Scan(&cp.RunID, &cp.PartitionName, &status, &cp.RowsCopied, &cp.LastOffset, &cp.UpdatedAt, &cp.Error); err != nil {
			return nil, fmt.Errorf("scanning checkpoint row: %w", err)
		}
		cp.Status = model.CheckpointStatus(status)
		out = append(out, cp)
	}
	return out, rows.Err()
}
