// SPDX-License-Identifier: Apache-2.0

package discovery_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/partmove/partmove/internal/discovery"
	"github.com/partmove/partmove/internal/testutils"
	partdb "github.com/partmove/partmove/pkg/db"
	"github.com/partmove/partmove/pkg/model"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func setupCatalog(t *testing.T, conn *sql.DB) {
	t.Helper()
	ctx := context.Background()
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE partition_table_info (
			table_name text,
			table_data text,
			from_date bigint,
			to_date bigint,
			use_flag boolean,
			save_date timestamp,
			cluster_index boolean
		)
	`)
	require.NoError(t, err)
}

func TestDiscoverRejectsUnknownType(t *testing.T) {
	conn, _ := testutils.NewDatabase(t)
	setupCatalog(t, conn)

	d := discovery.New(&partdb.RDB{DB: conn}, nil)
	_, err := d.Discover(context.Background(), discovery.Range{
		From: time.Date(2024, 9, 21, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 9, 23, 0, 0, 0, 0, time.UTC),
	}, []model.TableType{"ZZ"})
	require.Error(t, err)
}

func TestDiscoverEmptyCatalogIsValidResult(t *testing.T) {
	conn, _ := testutils.NewDatabase(t)
	setupCatalog(t, conn)

	d := discovery.New(&partdb.RDB{DB: conn}, nil)
	partitions, err := d.Discover(context.Background(), discovery.Range{
		From: time.Date(2024, 9, 21, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 9, 23, 0, 0, 0, 0, time.UTC),
	}, []model.TableType{model.TableTypePH})
	require.NoError(t, err)
	require.Empty(t, partitions)
}

func TestDiscoverMatchesOverlappingPartitions(t *testing.T) {
	conn, _ := testutils.NewDatabase(t)
	setupCatalog(t, conn)
	ctx := context.Background()

	from := time.Date(2024, 9, 21, 0, 0, 0, 0, time.UTC).UnixMilli()
	to := time.Date(2024, 9, 21, 23, 59, 59, 0, time.UTC).UnixMilli()
	_, err := conn.ExecContext(ctx,
		`INSERT INTO partition_table_info (table_name, table_data, from_date, to_date, use_flag, cluster_index)
		 VALUES ($1, 'PH', $2, $3, true, false)`,
		"point_history_240921", from, to,
	)
	require.NoError(t, err)

	d := discovery.New(&partdb.RDB{DB: conn}, nil)
	partitions, err := d.Discover(ctx, discovery.Range{
		From: time.Date(2024, 9, 21, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 9, 23, 0, 0, 0, 0, time.UTC),
	}, []model.TableType{model.TableTypePH})
	require.NoError(t, err)
	require.Len(t, partitions, 1)
	require.Equal(t, "point_history_240921", partitions[0].ChildTable)
	require.Equal(t, "point_history", partitions[0].ParentTable)
}
