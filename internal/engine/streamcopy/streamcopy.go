// SPDX-License-Identifier: Apache-2.0

// Package streamcopy implements the streaming COPY data-movement engine: a
// concurrent producer/consumer pipeline moving rows through a pipe, with
// session tuning, 1 Hz EMA throughput metrics, and atomic per-partition
// checkpointing. The consumer side uses lib/pq's native CopyIn support for
// the COPY-FROM-STDIN direction; database/sql's Rows abstraction has no
// COPY OUT escape hatch, so the producer side instead drives the source
// with an ordinary SELECT and encodes each row as CSV into the pipe,
// preserving the CSV wire dialect while staying entirely inside
// database/sql. golang.org/x/sync/errgroup coordinates the two sides and
// cancels both on first error.
package streamcopy

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/partmove/partmove/internal/controlbus"
	"github.com/partmove/partmove/internal/errkind"
	"github.com/partmove/partmove/internal/registry"
	"github.com/partmove/partmove/internal/schemabuilder"
	"github.com/partmove/partmove/internal/store"
	"github.com/partmove/partmove/internal/worker"
	partdb "github.com/partmove/partmove/pkg/db"
	"github.com/partmove/partmove/pkg/model"
)

// emaAlpha corresponds to a 5-sample EMA window at a 1 Hz sampling rate.
const emaAlpha = 2.0 / (5.0 + 1.0)

// Engine is the streaming COPY data-movement engine.
type Engine struct {
	source partdb.DB
	target partdb.DB
	store  *store.Store
	worker *worker.Worker
	bus    *controlbus.Bus
	compat model.CompatibilityMode

	tuned bool
}

// New constructs a streaming COPY Engine.
func New(source, target partdb.DB, st *store.Store, w *worker.Worker, bus *controlbus.Bus, compat model.CompatibilityMode) *Engine {
	return &Engine{source: source, target: target, store: st, worker: w, bus: bus, compat: compat}
}

// Run migrates every partition via COPY, applying session tuning once
// before the first partition. COPY has no offset: a partition is either
// pending, in_progress (meaning a prior attempt was interrupted and must
// restart from zero), or completed. By default it returns the first error
// encountered; when policy.ContinueOnError is set, a schema-conflict
// failure on one partition is recorded and the run proceeds to the next,
// with the first error returned at the end.
func (e *Engine) Run(ctx context.Context, runID string, policy model.RunPolicy, partitions []model.PartitionDescriptor) error {
	if !e.tuned {
		if err := e.applySessionTuning(ctx); err != nil {
			return err
		}
		e.tuned = true
	}

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
		if err == store.ErrNotFound {
			cp = model.Checkpoint{RunID: runID, PartitionName: desc.ChildTable, Status: model.CheckpointPending}
		} else if err != nil {
			return fmt.Errorf("loading checkpoint for %s: %w", desc.ChildTable, err)
		}

		if cp.Status == model.CheckpointCompleted {
			donePartitions++
			totalRows += cp.RowsCopied
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
		if err := builder.EnsurePartitionReady(ctx, desc, model.TruncateAuto, e.bus); err != nil {
			return err
		}

		cp = model.Checkpoint{RunID: runID, PartitionName: desc.ChildTable, Status: model.CheckpointInProgress}
		if err := e.store.Checkpoints.Upsert(ctx, cp); err != nil {
			return fmt.Errorf("marking %s in progress: %w", desc.ChildTable, err)
		}

		rows, err := e.copyPartition(ctx, idx, desc, totalRows)
		if err != nil {
			cp.Status = model.CheckpointFailed
			cp.Error = err.Error()
			_ = e.store.Checkpoints.Upsert(ctx, cp)

			if !policy.ContinueOnError || errkind.Classify(err) != errkind.KindSchemaConflict {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		cp.Status = model.CheckpointCompleted
		cp.RowsCopied = rows
		if err := e.store.Checkpoints.Upsert(ctx, cp); err != nil {
			return fmt.Errorf("finalizing checkpoint %s: %w", desc.ChildTable, err)
		}

		donePartitions++
		totalRows += rows
		if err := e.store.Runs.UpdateProgress(ctx, runID, donePartitions, totalRows); err != nil {
			return fmt.Errorf("updating run progress: %w", err)
		}
	}

	return firstErr
}

// applySessionTuning applies the compatibility-mode session settings once
// per connection. Unsupported settings are skipped, not fatal.
func (e *Engine) applySessionTuning(ctx context.Context) error {
	var statements []string
	switch e.compat {
	case model.CompatibilityV93:
		statements = []string{"SET synchronous_commit = off", "SET work_mem = '128MB'"}
	case model.CompatibilityV16:
		statements = []string{"SET work_mem = '256MB'", "SET max_wal_size = '4GB'"}
	default:
		statements = []string{"SET synchronous_commit = off", "SET work_mem = '128MB'"}
	}

	for _, stmt := range statements {
		if _, err := e.target.ExecContext(ctx, stmt); err != nil {
			e.bus.EmitLog(model.LogEntry{
				Timestamp: time.Now(), Level: model.LogWarning, Component: "streamcopy",
				Message: fmt.Sprintf("session tuning %q unsupported, skipping: %v", stmt, err),
			})
		}
	}
	return nil
}

// copyPartition runs the producer (SELECT, CSV-encoded into a pipe) and
// the consumer (COPY ... FROM STDIN) concurrently, reconciles counts, and
// returns the row count copied. runTotalBase is the run-cumulative row
// count completed before this partition started.
func (e *Engine) copyPartition(ctx context.Context, idx int, desc model.PartitionDescriptor, runTotalBase int64) (int64, error) {
	spec, err := registry.Lookup(desc.Type)
	if err != nil {
		return 0, err
	}
	cols := registry.ColumnNames(spec)

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	var rowsProduced int64
	g.Go(func() error {
		defer pw.Close()
		n, err := e.produce(gctx, idx, desc, cols, pw, runTotalBase)
		rowsProduced = n
		return err
	})

	var rowsConsumed int64
	g.Go(func() error {
		n, err := e.consume(gctx, desc.ChildTable, cols, pr)
		rowsConsumed = n
		return err
	})

	if err := g.Wait(); err != nil {
		pr.CloseWithError(err)
		return 0, fmt.Errorf("copying partition %s: %w", desc.ChildTable, err)
	}

	if rowsProduced != rowsConsumed {
		return 0, fmt.Errorf("row count mismatch copying %s: produced %d, consumed %d", desc.ChildTable, rowsProduced, rowsConsumed)
	}

	targetCount, err := e.reconcile(ctx, desc.ChildTable)
	if err != nil {
		return 0, err
	}
	if targetCount != rowsProduced {
		return 0, fmt.Errorf("post-copy reconciliation failed for %s: source produced %d rows, target holds %d", desc.ChildTable, rowsProduced, targetCount)
	}

	return rowsProduced, nil
}

// produce selects the child's rows in stable-key order and CSV-encodes
// each one into w, sampling throughput at 1 Hz. runTotalBase is the
// run-cumulative row count completed before this partition started, so
// emitted progress events report a monotonically non-decreasing run total
// rather than resetting at each partition boundary.
func (e *Engine) produce(ctx context.Context, idx int, desc model.PartitionDescriptor, cols []string, w io.Writer, runTotalBase int64) (int64, error) {
	spec, err := registry.Lookup(desc.Type)
	if err != nil {
		return 0, err
	}

	selectSQL := fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY %s",
		strings.Join(quoteAll(cols), ", "),
		pq.QuoteIdentifier(desc.ChildTable),
		strings.Join(quoteAll(spec.StableKey), ", "),
	)

	rows, err := e.source.QueryContext(ctx, selectSQL)
	if err != nil {
		return 0, fmt.Errorf("selecting %s: %w", desc.ChildTable, err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	record := make([]string, len(cols))
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	var count int64
	var bytesThisSample int64
	sampler := newEMASampler()
	lastSample := time.Now()

	for rows.Next() {
		if err := e.worker.CheckPoint(ctx); err != nil {
			return count, err
		}
		if err := rows.Scan(ptrs...); err != nil {
			return count, fmt.Errorf("scanning row from %s: %w", desc.ChildTable, err)
		}

		for i, v := range dest {
			record[i] = csvField(v)
			bytesThisSample += int64(len(record[i]))
		}
		if err := cw.Write(record); err != nil {
			return count, err
		}
		count++

		if time.Since(lastSample) >= time.Second {
			cw.Flush()
			rowsPerSec, mbPerSec := sampler.sample(count, bytesThisSample)
			remaining := desc.EstimatedRows - count
			var eta time.Duration
			if remaining > 0 {
				eta = time.Duration(float64(remaining)/max(rowsPerSec, 1)) * time.Second
			}
			e.bus.EmitProgress(controlbus.ProgressEvent{
				PartitionIndex: idx, PartitionName: desc.ChildTable,
				RowsThisPart: count, TotalRows: runTotalBase + count,
				RowsPerSecEMA: rowsPerSec, MBPerSecEMA: mbPerSec,
				ETA: eta, Timestamp: time.Now(),
			})
			lastSample = time.Now()
			bytesThisSample = 0
		}
	}
	cw.Flush()
	return count, rows.Err()
}

// consume issues COPY ... FROM STDIN against the target and streams CSV
// rows from r, decoding them back into typed args for pq.CopyIn.
func (e *Engine) consume(ctx context.Context, table string, cols []string, r io.Reader) (int64, error) {
	var count int64

	err := e.target.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		count = 0
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, cols...))
		if err != nil {
			return fmt.Errorf("preparing COPY FROM STDIN for %s: %w", table, err)
		}

		cr := csv.NewReader(r)
		cr.ReuseRecord = true
		for {
			record, err := cr.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				stmt.Close()
				return fmt.Errorf("decoding CSV row for %s: %w", table, err)
			}

			args := make([]any, len(record))
			for i, f := range record {
				if f == "NULL" {
					args[i] = nil
				} else {
					args[i] = f
				}
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				stmt.Close()
				return fmt.Errorf("copying row into %s: %w", table, err)
			}
			count++
		}

		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("finalizing COPY into %s: %w", table, err)
		}
		return stmt.Close()
	})

	return count, err
}

func (e *Engine) reconcile(ctx context.Context, table string) (int64, error) {
	row := e.target.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", pq.QuoteIdentifier(table)))
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("reconciling row count for %s: %w", table, err)
	}
	return n, nil
}

func csvField(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return t.Format("2006-01-02 15:04:05.999999")
	}
	return fmt.Sprintf("%v", v)
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = pq.QuoteIdentifier(n)
	}
	return out
}

// emaSampler tracks a 5-sample exponential moving average of rows/sec and
// MB/sec, recomputed once per 1 Hz tick from the delta since last sample.
type emaSampler struct {
	lastCount int64
	lastBytes int64
	lastTime  time.Time
	rowsEMA   float64
	mbEMA     float64
	started   bool
}

func newEMASampler() *emaSampler {
	return &emaSampler{lastTime: time.Now()}
}

func (s *emaSampler) sample(totalCount, totalBytes int64) (rowsPerSec, mbPerSec float64) {
	now := time.Now()
	elapsed := now.Sub(s.lastTime).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	deltaRows := float64(totalCount - s.lastCount)
	deltaMB := float64(totalBytes-s.lastBytes) / (1024 * 1024)

	instRows := deltaRows / elapsed
	instMB := deltaMB / elapsed

	if !s.started {
		s.rowsEMA, s.mbEMA = instRows, instMB
		s.started = true
	} else {
		s.rowsEMA = emaAlpha*instRows + (1-emaAlpha)*s.rowsEMA
		s.mbEMA = emaAlpha*instMB + (1-emaAlpha)*s.mbEMA
	}

	s.lastCount, s.lastBytes, s.lastTime = totalCount, totalBytes, now
	return s.rowsEMA, s.mbEMA
}
