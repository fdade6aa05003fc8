// SPDX-License-Identifier: Apache-2.0

package schemabuilder_test

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/partmove/partmove/internal/controlbus"
	"github.com/partmove/partmove/internal/schemabuilder"
	"github.com/partmove/partmove/internal/testutils"
	partdb "github.com/partmove/partmove/pkg/db"
	"github.com/partmove/partmove/pkg/model"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestEnsureParentAndChildPH(t *testing.T) {
	conn, _ := testutils.NewDatabase(t)
	rdb := &partdb.RDB{DB: conn}
	b := schemabuilder.New(rdb)
	ctx := context.Background()

	require.NoError(t, b.EnsureParent(ctx, model.TableTypePH))
	require.NoError(t, b.EnsureParent(ctx, model.TableTypePH)) // idempotent

	desc := model.PartitionDescriptor{
		ParentTable: "point_history",
		ChildTable:  "point_history_240921",
		Type:        model.TableTypePH,
		FromDate:    1726876800000,
		ToDate:      1726963199999,
	}
	require.NoError(t, b.EnsureChild(ctx, desc))
	require.NoError(t, b.EnsureChild(ctx, desc)) // idempotent

	var tableExists bool
	err := conn.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_tables WHERE tablename = $1)`, desc.ChildTable).Scan(&tableExists)
	require.NoError(t, err)
	require.True(t, tableExists)
}

func TestEnsurePartitionReadyAutoTruncate(t *testing.T) {
	conn, _ := testutils.NewDatabase(t)
	rdb := &partdb.RDB{DB: conn}
	b := schemabuilder.New(rdb)
	ctx := context.Background()

	require.NoError(t, b.EnsureParent(ctx, model.TableTypePH))
	desc := model.PartitionDescriptor{
		ChildTable: "point_history_240921",
		Type:       model.TableTypePH,
		FromDate:   1726876800000,
		ToDate:     1726963199999,
	}
	require.NoError(t, b.EnsureChild(ctx, desc))

	_, err := conn.ExecContext(ctx, "INSERT INTO point_history_240921 (path_id, issued_date) VALUES (1, 1726876800000)")
	require.NoError(t, err)

	require.NoError(t, b.EnsurePartitionReady(ctx, desc, model.TruncateAuto, nil))

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT count(*) FROM point_history_240921").Scan(&count))
	require.Zero(t, count)
}

func TestEnsureChildRejectsRowsOutsideDateRange(t *testing.T) {
	conn, _ := testutils.NewDatabase(t)
	rdb := &partdb.RDB{DB: conn}
	b := schemabuilder.New(rdb)
	ctx := context.Background()

	require.NoError(t, b.EnsureParent(ctx, model.TableTypePH))
	desc := model.PartitionDescriptor{
		ChildTable: "point_history_240921",
		Type:       model.TableTypePH,
		FromDate:   1726876800000,
		ToDate:     1726963199999,
	}
	require.NoError(t, b.EnsureChild(ctx, desc))

	_, err := conn.ExecContext(ctx, "INSERT INTO point_history_240921 (path_id, issued_date) VALUES (1, 1)")
	require.Error(t, err)

	var pqErr *pq.Error
	require.True(t, errors.As(err, &pqErr))
	require.Equal(t, testutils.CheckViolationErrorCode, pqErr.Code.Name())
}

func TestEnsurePartitionReadyConfirmDenied(t *testing.T) {
	conn, _ := testutils.NewDatabase(t)
	rdb := &partdb.RDB{DB: conn}
	b := schemabuilder.New(rdb)
	ctx := context.Background()

	require.NoError(t, b.EnsureParent(ctx, model.TableTypePH))
	desc := model.PartitionDescriptor{
		ChildTable: "point_history_240921",
		Type:       model.TableTypePH,
		FromDate:   1726876800000,
		ToDate:     1726963199999,
	}
	require.NoError(t, b.EnsureChild(ctx, desc))

	_, err := conn.ExecContext(ctx, "INSERT INTO point_history_240921 (path_id, issued_date) VALUES (1, 1726876800000)")
	require.NoError(t, err)

	bus := controlbus.New()
	go func() {
		req := <-bus.ConfirmationRequest
		req.Reply <- false
	}()

	err = b.EnsurePartitionReady(ctx, desc, model.TruncateConfirm, bus)
	require.Error(t, err)
}
