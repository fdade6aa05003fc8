// SPDX-License-Identifier: Apache-2.0

// Package discovery queries the source catalog table partition_table_info
// and enumerates partitions within a date range for a set of table types.
// Queries stay on plain $n placeholders and pq.QuoteIdentifier for
// anything that can't be bound; Discoverer is a dedicated, side-effect-free
// type carrying its own logger.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/partmove/partmove/internal/registry"
	partdb "github.com/partmove/partmove/pkg/db"
	"github.com/partmove/partmove/pkg/model"
)

// Discoverer queries a source connection's partition_table_info catalog.
type Discoverer struct {
	conn partdb.DB
	log  *slog.Logger
}

// New constructs a Discoverer over an already-open source connection.
func New(conn partdb.DB, log *slog.Logger) *Discoverer {
	if log == nil {
		log = slog.Default()
	}
	return &Discoverer{conn: conn, log: log}
}

// Range is an inclusive calendar-date range, translated to millisecond
// bounds at local midnight for int8-typed families.
type Range struct {
	From time.Time
	To   time.Time
}

// Millis returns the inclusive [from, to] millisecond bounds for this range:
// local midnight starting From's calendar date through the last
// millisecond before local midnight ending To's calendar date.
func (r Range) Millis() (from, to int64) {
	y, m, d := r.From.Date()
	from = time.Date(y, m, d, 0, 0, 0, 0, time.Local).UnixMilli()
	y, m, d = r.To.Date()
	to = time.Date(y, m, d+1, 0, 0, 0, 0, time.Local).Add(-time.Millisecond).UnixMilli()
	return from, to
}

const catalogQuery = `
SELECT table_name, table_data, from_date, to_date, cluster_index
FROM partition_table_info
WHERE table_data = ANY($1)
  AND use_flag = true
  AND from_date <= $2
  AND to_date >= $3
ORDER BY table_data, from_date
`

// Discover returns the ordered list of partitions in r covering any of
// types. An empty result is valid: it means no catalog rows matched.
func (d *Discoverer) Discover(ctx context.Context, r Range, types []model.TableType) ([]model.PartitionDescriptor, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("discovery: at least one table type is required")
	}
	if err := registry.ValidateSubset(types); err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	if r.From.After(r.To) {
		return nil, fmt.Errorf("discovery: range from %s is after to %s", r.From, r.To)
	}

	codes := make([]string, len(types))
	for i, t := range types {
		codes[i] = string(t)
	}

	rangeStart, rangeEnd := r.Millis()

	rows, err := d.conn.QueryContext(ctx, catalogQuery, pq.Array(codes), rangeEnd, rangeStart)
	if err != nil {
		return nil, fmt.Errorf("discovery: querying catalog: %w", err)
	}
	defer rows.Close()

	var out []model.PartitionDescriptor
	for rows.Next() {
		var (
			childTable string
			tableData  string
			fromDate   int64
			toDate     int64
			clusterIdx bool
		)
		if err := rows.Scan(&childTable, &tableData, &fromDate, &toDate, &clusterIdx); err != nil {
			return nil, fmt.Errorf("discovery: scanning catalog row: %w", err)
		}

		spec, err := registry.Lookup(model.TableType(tableData))
		if err != nil {
			return nil, fmt.Errorf("discovery: catalog row %s: %w", childTable, err)
		}

		out = append(out, model.PartitionDescriptor{
			ParentTable:  registry.ParentTableFor(spec.Code),
			ChildTable:   childTable,
			Type:         spec.Code,
			FromDate:     fromDate,
			ToDate:       toDate,
			ClusterIndex: clusterIdx,
		})
	}

	d.log.Info("discovery complete", "partitions", len(out), "types", codes)
	return out, rows.Err()
}

// EstimateRows attaches a best-effort pg_class.reltuples estimate to each
// descriptor. Failure to estimate is non-fatal: the estimate is left at 0.
func (d *Discoverer) EstimateRows(ctx context.Context, partitions []model.PartitionDescriptor) []model.PartitionDescriptor {
	for i := range partitions {
		row := d.conn.QueryRowContext(ctx,
			`SELECT reltuples::bigint FROM pg_class WHERE relname = $1`,
			partitions[i].ChildTable,
		)
		var estimate int64
		if err := row.Scan(&estimate); err != nil {
			d.log.Warn("row estimate unavailable", "partition", partitions[i].ChildTable, "error", err)
			continue
		}
		partitions[i].EstimatedRows = estimate
	}
	return partitions
}
