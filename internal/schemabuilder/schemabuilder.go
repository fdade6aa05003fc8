// SPDX-License-Identifier: Apache-2.0

// Package schemabuilder provisions target-side parent and child partition
// tables so they reproduce the source's partitioning semantics: inheritance
// plus either a dispatch trigger (PH) or a per-partition rule (TH/ED/RT).
// DDL is built with pq.QuoteIdentifier/pq.QuoteLiteral and executed
// through *sql.Tx, one multi-statement transaction per logical operation.
package schemabuilder

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
	partdb "github.com/partmove/partmove/pkg/db"
	"github.com/partmove/partmove/pkg/model"
)

// TriggerFunctionName is the fixed PL/pgSQL dispatch function name used by
// trigger-based families.
const TriggerFunctionName = "point_history_partition_insert"

// Builder ensures target schema readiness for a partition.
type Builder struct {
	conn partdb.DB
}

// New constructs a Builder over an already-open target connection.
func New(conn partdb.DB) *Builder {
	return &Builder{conn: conn}
}

// EnsureParent creates the parent table and, for trigger-dispatch
// families, the dispatch function and trigger, if not already present.
// Every statement runs inside a single transaction.
func (b *Builder) EnsureParent(ctx context.Context, t model.TableType) error {
	spec, err := registry.Lookup(t)
	if err != nil {
		return errkind.Wrap(errkind.KindValidation, err)
	}

	parent := registry.ParentTableFor(t)

	return b.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
			pq.QuoteIdentifier(parent), columnsToSQL(spec.Columns))
		if _, err := tx.ExecContext(ctx, createSQL); err != nil {
			return fmt.Errorf("creating parent table %s: %w", parent, err)
		}

		if err := ensureIndices(ctx, tx, parent, spec); err != nil {
			return err
		}

		if spec.Dispatch == model.DispatchTrigger {
			if err := ensureDispatchTrigger(ctx, tx, parent, spec); err != nil {
				return err
			}
		}

		return nil
	})
}

// EnsureChild creates the inheriting child partition table for desc, with
// its CHECK constraint, and the dispatch rule when the family uses
// per-partition rules. Idempotent: re-running on an already-created child
// is a no-op for the DDL (but see EnsurePartitionReady for data handling).
func (b *Builder) EnsureChild(ctx context.Context, desc model.PartitionDescriptor) error {
	spec, err := registry.Lookup(desc.Type)
	if err != nil {
		return errkind.Wrap(errkind.KindValidation, err)
	}

	parent := registry.ParentTableFor(desc.Type)

	return b.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		checkExpr := checkConstraint(spec, desc)

		createSQL := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (CHECK (%s)) INHERITS (%s)",
			pq.QuoteIdentifier(desc.ChildTable), checkExpr, pq.QuoteIdentifier(parent),
		)
		if _, err := tx.ExecContext(ctx, createSQL); err != nil {
			return fmt.Errorf("creating child table %s: %w", desc.ChildTable, err)
		}

		pkSQL := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			pq.QuoteIdentifier(desc.ChildTable+"_pkey_idx"),
			pq.QuoteIdentifier(desc.ChildTable),
			strings.Join(quoteAll(spec.StableKey), ", "),
		)
		if _, err := tx.ExecContext(ctx, pkSQL); err != nil {
			return fmt.Errorf("creating child index on %s: %w", desc.ChildTable, err)
		}

		if spec.Dispatch == model.DispatchRule {
			if err := ensureDispatchRule(ctx, tx, parent, desc, spec); err != nil {
				return err
			}
		}

		return nil
	})
}

// EnsurePartitionReady makes the child ready to receive a fresh copy of
// the source data: if the child already holds rows, it is truncated,
// either immediately (TruncateAuto) or after an observer confirms via bus
// (TruncateConfirm). Returns errkind.ErrConfirmationDenied if the observer
// declines.
func (b *Builder) EnsurePartitionReady(ctx context.Context, desc model.PartitionDescriptor, mode model.TruncateMode, bus *controlbus.Bus) error {
	var existing int64
	row := b.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", pq.QuoteIdentifier(desc.ChildTable)))
	if err := row.Scan(&existing); err != nil {
		return fmt.Errorf("counting existing rows in %s: %w", desc.ChildTable, err)
	}
	if existing == 0 {
		return nil
	}

	if mode == model.TruncateConfirm {
		if bus == nil {
			return errkind.Wrap(errkind.KindValidation, fmt.Errorf("confirm truncate requested for %s but no control bus is attached", desc.ChildTable))
		}
		reply := make(chan bool, 1)
		approved := bus.RequestConfirmation(controlbus.ConfirmationRequest{
			PartitionName: desc.ChildTable,
			ExistingRows:  existing,
			Reply:         reply,
		})
		if !approved {
			return errkind.ErrConfirmationDenied
		}
	}

	_, err := b.conn.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", pq.QuoteIdentifier(desc.ChildTable)))
	if err != nil {
		return fmt.Errorf("truncating %s: %w", desc.ChildTable, err)
	}
	return nil
}

func ensureIndices(ctx context.Context, tx *sql.Tx, parent string, spec model.TableTypeSpec) error {
	idxSQL := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		pq.QuoteIdentifier(parent+"_stable_idx"),
		pq.QuoteIdentifier(parent),
		strings.Join(quoteAll(spec.StableKey), ", "),
	)
	_, err := tx.ExecContext(ctx, idxSQL)
	if err != nil {
		return fmt.Errorf("creating parent index on %s: %w", parent, err)
	}
	return nil
}

func ensureDispatchTrigger(ctx context.Context, tx *sql.Tx, parent string, spec model.TableTypeSpec) error {
	funcSQL := fmt.Sprintf(`
CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
DECLARE
	target_table text;
BEGIN
	target_table := %s || '_' || to_char(to_timestamp(NEW.issued_date / 1000), 'YYMMDD');
	EXECUTE format('INSERT INTO %%I VALUES ($1.*)', target_table) USING NEW;
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;
`, pq.QuoteIdentifier(TriggerFunctionName), pq.QuoteLiteral(parent))

	if _, err := tx.ExecContext(ctx, funcSQL); err != nil {
		return fmt.Errorf("creating dispatch function for %s: %w", parent, err)
	}

	triggerName := parent + "_insert_trigger"
	dropSQL := fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", pq.QuoteIdentifier(triggerName), pq.QuoteIdentifier(parent))
	if _, err := tx.ExecContext(ctx, dropSQL); err != nil {
		return fmt.Errorf("dropping existing trigger on %s: %w", parent, err)
	}

	createTriggerSQL := fmt.Sprintf(
		"CREATE TRIGGER %s BEFORE INSERT ON %s FOR EACH ROW EXECUTE FUNCTION %s()",
		pq.QuoteIdentifier(triggerName), pq.QuoteIdentifier(parent), pq.QuoteIdentifier(TriggerFunctionName),
	)
	if _, err := tx.ExecContext(ctx, createTriggerSQL); err != nil {
		return fmt.Errorf("creating trigger on %s: %w", parent, err)
	}

	return nil
}

func ensureDispatchRule(ctx context.Context, tx *sql.Tx, parent string, desc model.PartitionDescriptor, spec model.TableTypeSpec) error {
	ruleName := ruleNameFor(parent, desc)

	dropSQL := fmt.Sprintf("DROP RULE IF EXISTS %s ON %s", pq.QuoteIdentifier(ruleName), pq.QuoteIdentifier(parent))
	if _, err := tx.ExecContext(ctx, dropSQL); err != nil {
		return fmt.Errorf("dropping existing rule %s: %w", ruleName, err)
	}

	whereExpr := checkConstraint(spec, desc)
	ruleSQL := fmt.Sprintf(
		"CREATE RULE %s AS ON INSERT TO %s WHERE (%s) DO INSTEAD INSERT INTO %s VALUES (NEW.*)",
		pq.QuoteIdentifier(ruleName), pq.QuoteIdentifier(parent), whereExpr, pq.QuoteIdentifier(desc.ChildTable),
	)
	if _, err := tx.ExecContext(ctx, ruleSQL); err != nil {
		return fmt.Errorf("creating rule %s: %w", ruleName, err)
	}

	return nil
}

// ruleNameFor formats the fixed rule_<parent>_<YYMM> naming.
func ruleNameFor(parent string, desc model.PartitionDescriptor) string {
	yymm := time.UnixMilli(desc.FromDate).UTC().Format("0601")
	return fmt.Sprintf("rule_%s_%s", parent, yymm)
}

// checkConstraint formats the partition's CHECK/rule WHERE expression,
// with literal formatting differing by date column type: a bigint cast
// for ms-typed families, a timestamp literal for ED.
func checkConstraint(spec model.TableTypeSpec, desc model.PartitionDescriptor) string {
	dateCol := pq.QuoteIdentifier("issued_date")

	switch spec.DateType {
	case model.DateColumnTimestamp:
		from := time.UnixMilli(desc.FromDate).UTC().Format("2006-01-02 15:04:05")
		to := time.UnixMilli(desc.ToDate).UTC().Format("2006-01-02 15:04:05")
		return fmt.Sprintf("%s BETWEEN %s::timestamp without time zone AND %s::timestamp without time zone",
			dateCol, pq.QuoteLiteral(from), pq.QuoteLiteral(to))
	default: // DateColumnEpochMillis
		return fmt.Sprintf("%s BETWEEN %d::bigint AND %d::bigint", dateCol, desc.FromDate, desc.ToDate)
	}
}

func columnsToSQL(cols []model.ColumnDef) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		part := fmt.Sprintf("%s %s", pq.QuoteIdentifier(c.Name), c.PGType)
		if !c.Nullable {
			part += " NOT NULL"
		}
		parts[i] = part
	}
	return strings.Join(parts, ", ")
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = pq.QuoteIdentifier(n)
	}
	return out
}

