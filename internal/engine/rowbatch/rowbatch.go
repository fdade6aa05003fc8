// SPDX-License-Identifier: Apache-2.0

// Package rowbatch implements the row-batch data-movement engine: a
// stable-key-ordered SELECT/INSERT batch loop with adaptive sizing and
// OFFSET-based resume, copying each batch across connections (source
// SELECT, target INSERT) rather than updating a single table in place.
package rowbatch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/partmove/partmove/internal/controlbus"
	"github.com/partmove/partmove/internal/errkind"
	"github.com/partmove/partmove/internal/registry"
	"github.com/partmove/partmove/internal/schemabuilder"
	"github.com/partmove/partmove/internal/store"
	"github.com/partmove/partmove/internal/worker"
	partdb "github.com/partmove/partmove/pkg/db"
	"github.com/partmove/partmove/pkg/model"
)

const (
	initialBatchSize = 100_000
	minBatchSize     = 10_000
	maxBatchSize     = 500_000

	growThreshold   = 1 * time.Second
	shrinkThreshold = 10 * time.Second
)

// Engine is the row-batch data-movement engine.
type Engine struct {
	source partdb.DB
	target partdb.DB
	store  *store.Store
	worker *worker.Worker
	bus    *controlbus.Bus
}

// New constructs a row-batch Engine. store persists checkpoints and run
// progress; bus carries progress/log/confirmation events to the observer.
func New(source, target partdb.DB, st *store.Store, w *worker.Worker, bus *controlbus.Bus) *Engine {
	return &Engine{source: source, target: target, store: st, worker: w, bus: bus}
}

// Run migrates every partition in order, honoring each partition's
// checkpoint state: completed partitions are skipped, in-progress
// partitions resume from their recorded offset, pending partitions start
// fresh. A declined truncate confirmation fails only its partition: the
// checkpoint is marked failed and the run proceeds to the next. Any other
// error ends the run at once, except that when policy.ContinueOnError is
// set a schema-conflict failure is likewise recorded and skipped. The
// first such skipped error is returned at the end.
func (e *Engine) Run(ctx context.Context, runID string, policy model.RunPolicy, partitions []model.PartitionDescriptor) error {
	builder := schemabuilder.New(e.target)
	donePartitions := 0
	var totalRows int64
	var firstErr error
	ensuredParents := make(map[model.TableType]bool)

	for idx, desc := range partitions {
		if err := e.worker.CheckPoint(ctx); err != nil {
			return err
		}

		cp, err := e.store.Checkpoints.Get(ctx, runID, desc.ChildTable)
		switch {
		case err == store.ErrNotFound:
			cp = model.Checkpoint{RunID: runID, PartitionName: desc.ChildTable, Status: model.CheckpointPending}
		case err != nil:
			return fmt.Errorf("loading checkpoint for %s: %w", desc.ChildTable, err)
		}

		if cp.Status == model.CheckpointCompleted {
			donePartitions++
			totalRows += cp.RowsCopied
			if err := e.store.Runs.UpdateProgress(ctx, runID, donePartitions, totalRows); err != nil {
				return fmt.Errorf("updating run progress: %w", err)
			}
			continue
		}

		if !ensuredParents[desc.Type] {
			if err := builder.EnsureParent(ctx, desc.Type); err != nil {
				return err
			}
			ensuredParents[desc.Type] = true
		}

		if err := builder.EnsureChild(ctx, desc); err != nil {
			return err
		}

		rowsCopied, err := e.migratePartition(ctx, idx, desc, cp, policy.TruncateMode, builder, totalRows)
		if err != nil {
			cp.Status = model.CheckpointFailed
			cp.Error = err.Error()
			_ = e.store.Checkpoints.Upsert(ctx, cp)

			kind := errkind.Classify(err)
			if kind != errkind.KindConfirmationDenied &&
				(!policy.ContinueOnError || kind != errkind.KindSchemaConflict) {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		donePartitions++
		totalRows += rowsCopied
		if err := e.store.Runs.UpdateProgress(ctx, runID, donePartitions, totalRows); err != nil {
			return fmt.Errorf("updating run progress: %w", err)
		}
	}

	return firstErr
}

// migratePartition copies one partition's rows, resuming from cp.LastOffset
// when cp.Status is in_progress, and returns the total rows copied.
// runTotalBase is the run-cumulative row count completed before this
// partition started, so emitted progress events report a monotonically
// non-decreasing run total rather than resetting at each partition boundary.
func (e *Engine) migratePartition(ctx context.Context, idx int, desc model.PartitionDescriptor, cp model.Checkpoint, truncateMode model.TruncateMode, builder *schemabuilder.Builder, runTotalBase int64) (int64, error) {
	spec, err := registry.Lookup(desc.Type)
	if err != nil {
		return 0, errkind.Wrap(errkind.KindValidation, err)
	}
	cols := registry.ColumnNames(spec)

	total, err := e.countSourceRows(ctx, desc.ChildTable)
	if err != nil {
		return 0, err
	}

	if cp.Status != model.CheckpointInProgress {
		if err := builder.EnsurePartitionReady(ctx, desc, truncateMode, e.bus); err != nil {
			return 0, err
		}
		cp = model.Checkpoint{RunID: cp.RunID, PartitionName: desc.ChildTable, Status: model.CheckpointInProgress, LastOffset: 0}
	}

	rb := newRowBatcher(desc.ChildTable, cols, spec.StableKey)
	batchSize := initialBatchSize
	offset := cp.LastOffset
	rowsCopied := cp.RowsCopied
	lastProgress := time.Time{}

	for offset < total {
		if err := e.worker.CheckPoint(ctx); err != nil {
			return rowsCopied, err
		}

		start := time.Now()
		n, err := rb.copyBatch(ctx, e.source, e.target, offset, batchSize)
		if err != nil {
			if errkind.Classify(err) == errkind.KindTransient || isMemoryPressure(err) {
				batchSize = max(batchSize/2, minBatchSize)
				n, err = rb.copyBatch(ctx, e.source, e.target, offset, batchSize)
			}
			if err != nil {
				return rowsCopied, err
			}
		}
		elapsed := time.Since(start)

		if n == 0 {
			break
		}

		offset += int64(n)
		rowsCopied += int64(n)

		cp.LastOffset = offset
		cp.RowsCopied = rowsCopied
		if err := e.store.Checkpoints.Upsert(ctx, cp); err != nil {
			return rowsCopied, fmt.Errorf("checkpointing %s: %w", desc.ChildTable, err)
		}

		if time.Since(lastProgress) >= time.Second || offset >= total {
			e.bus.EmitProgress(controlbus.ProgressEvent{
				PartitionIndex: idx,
				PartitionName:  desc.ChildTable,
				RowsThisPart:   rowsCopied,
				TotalRows:      runTotalBase + rowsCopied,
				RowsPerSecEMA:  float64(n) / elapsed.Seconds(),
				Timestamp:      time.Now(),
			})
			lastProgress = time.Now()
		}

		batchSize = adjustBatchSize(batchSize, elapsed)
	}

	cp.Status = model.CheckpointCompleted
	if err := e.store.Checkpoints.Upsert(ctx, cp); err != nil {
		return rowsCopied, fmt.Errorf("finalizing checkpoint %s: %w", desc.ChildTable, err)
	}

	return rowsCopied, nil
}

func (e *Engine) countSourceRows(ctx context.Context, childTable string) (int64, error) {
	row := e.source.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", pq.QuoteIdentifier(childTable)))
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting source rows in %s: %w", childTable, err)
	}
	return n, nil
}

// adjustBatchSize grows batchSize ×1.5 on a fast batch, halves it on a
// slow one, otherwise holds it steady.
func adjustBatchSize(size int, elapsed time.Duration) int {
	switch {
	case elapsed < growThreshold:
		return min(int(float64(size)*1.5), maxBatchSize)
	case elapsed > shrinkThreshold:
		return max(size/2, minBatchSize)
	default:
		return size
	}
}

func isMemoryPressure(err error) bool {
	return strings.Contains(err.Error(), "out of memory") || strings.Contains(err.Error(), "memory exhausted")
}

// rowBatcher fetches and inserts one offset-bounded batch of rows for a
// single child table.
type rowBatcher struct {
	table     string
	columns   []string
	stableKey []string
}

func newRowBatcher(table string, columns, stableKey []string) *rowBatcher {
	return &rowBatcher{table: table, columns: columns, stableKey: stableKey}
}

// copyBatch selects up to batchSize rows starting at offset, ordered by
// the stable key, and inserts them into the target in one transaction. It
// returns the number of rows copied.
func (rb *rowBatcher) copyBatch(ctx context.Context, source, target partdb.DB, offset int64, batchSize int) (int, error) {
	selectSQL := fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY %s LIMIT %d OFFSET %d",
		strings.Join(quoteAll(rb.columns), ", "),
		pq.QuoteIdentifier(rb.table),
		strings.Join(quoteAll(rb.stableKey), ", "),
		batchSize, offset,
	)

	rows, err := source.QueryContext(ctx, selectSQL)
	if err != nil {
		return 0, fmt.Errorf("selecting batch from %s: %w", rb.table, err)
	}
	defer rows.Close()

	values := make([][]any, 0, batchSize)
	for rows.Next() {
		dest := make([]any, len(rb.columns))
		ptrs := make([]any, len(rb.columns))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return 0, fmt.Errorf("scanning row from %s: %w", rb.table, err)
		}
		values = append(values, dest)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}

	err = target.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return rb.insertBatch(ctx, tx, values)
	})
	if err != nil {
		return 0, fmt.Errorf("inserting batch into %s: %w", rb.table, err)
	}

	return len(values), nil
}

// insertBatch builds a single multi-row INSERT with one parameter
// placeholder group per row, the idiom database/sql requires in the
// absence of a native bulk-bind API.
func (rb *rowBatcher) insertBatch(ctx context.Context, tx *sql.Tx, values [][]any) error {
	ncols := len(rb.columns)
	placeholders := make([]string, len(values))
	args := make([]any, 0, len(values)*ncols)

	for i, row := range values {
		group := make([]string, ncols)
		for j := 0; j < ncols; j++ {
			group[j] = fmt.Sprintf("$%d", i*ncols+j+1)
		}
		placeholders[i] = "(" + strings.Join(group, ", ") + ")"
		args = append(args, row...)
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s",
		pq.QuoteIdentifier(rb.table),
		strings.Join(quoteAll(rb.columns), ", "),
		strings.Join(placeholders, ", "),
	)

	_, err := tx.ExecContext(ctx, insertSQL, args...)
	return err
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = pq.QuoteIdentifier(n)
	}
	return out
}
