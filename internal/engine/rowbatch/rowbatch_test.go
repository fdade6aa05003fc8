// SPDX-License-Identifier: Apache-2.0

package rowbatch_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/partmove/partmove/internal/controlbus"
	"github.com/partmove/partmove/internal/engine/rowbatch"
	"github.com/partmove/partmove/internal/schemabuilder"
	"github.com/partmove/partmove/internal/store"
	"github.com/partmove/partmove/internal/testutils"
	"github.com/partmove/partmove/internal/vault"
	"github.com/partmove/partmove/internal/worker"
	partdb "github.com/partmove/partmove/pkg/db"
	"github.com/partmove/partmove/pkg/model"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestRunCopiesAllPartitionsAndCheckpoints(t *testing.T) {
	srcDB, _, tgtDB, _ := testutils.SourceAndTarget(t)
	source := &partdb.RDB{DB: srcDB}
	target := &partdb.RDB{DB: tgtDB}
	ctx := context.Background()

	builder := schemabuilder.New(source)
	require.NoError(t, builder.EnsureParent(ctx, model.TableTypePH))

	desc := model.PartitionDescriptor{
		ParentTable: "point_history",
		ChildTable:  "point_history_240901",
		Type:        model.TableTypePH,
		FromDate:    time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		ToDate:      time.Date(2024, 9, 30, 23, 59, 59, 0, time.UTC).UnixMilli(),
	}
	require.NoError(t, builder.EnsureChild(ctx, desc))

	for i := 0; i < 5; i++ {
		_, err := source.DB.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (path_id, issued_date, changed_value) VALUES ($1, $2, $3)`, desc.ChildTable),
			int64(i), desc.FromDate+int64(i), fmt.Sprintf("v%d", i),
		)
		require.NoError(t, err)
	}

	targetBuilder := schemabuilder.New(target)
	require.NoError(t, targetBuilder.EnsureParent(ctx, model.TableTypePH))

	tmpDB, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { tmpDB.Close() })

	v, err := vault.Open(filepath.Join(t.TempDir(), "vault.key"))
	require.NoError(t, err)
	_, err = tmpDB.Profiles.Create(ctx, v, model.ConnectionProfile{ID: "profile-1", Name: "profile-1"})
	require.NoError(t, err)

	run, err := tmpDB.Runs.Create(ctx, "profile-1", model.NewSessionID(), 1)
	require.NoError(t, err)

	bus := controlbus.New()
	w := worker.New(bus)
	_, err = w.Start(ctx)
	require.NoError(t, err)

	eng := rowbatch.New(source, target, tmpDB, w, bus)
	err = eng.Run(ctx, run.ID, model.RunPolicy{TruncateMode: model.TruncateAuto}, []model.PartitionDescriptor{desc})
	require.NoError(t, err)

	var count int64
	require.NoError(t, target.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", desc.ChildTable)).Scan(&count))
	require.Equal(t, int64(5), count)

	cp, err := tmpDB.Checkpoints.Get(ctx, run.ID, desc.ChildTable)
	require.NoError(t, err)
	require.Equal(t, model.CheckpointCompleted, cp.Status)
	require.Equal(t, int64(5), cp.RowsCopied)
}

func TestRunSkipsAlreadyCompletedCheckpoint(t *testing.T) {
	_, _, tgtDB, _ := testutils.SourceAndTarget(t)
	target := &partdb.RDB{DB: tgtDB}
	ctx := context.Background()

	tmpDB, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { tmpDB.Close() })

	v, err := vault.Open(filepath.Join(t.TempDir(), "vault.key"))
	require.NoError(t, err)
	_, err = tmpDB.Profiles.Create(ctx, v, model.ConnectionProfile{ID: "profile-1", Name: "profile-1"})
	require.NoError(t, err)

	run, err := tmpDB.Runs.Create(ctx, "profile-1", model.NewSessionID(), 1)
	require.NoError(t, err)

	desc := model.PartitionDescriptor{ChildTable: "point_history_240801", Type: model.TableTypePH}
	require.NoError(t, tmpDB.Checkpoints.Upsert(ctx, model.Checkpoint{
		RunID: run.ID, PartitionName: desc.ChildTable, Status: model.CheckpointCompleted, RowsCopied: 42,
	}))

	bus := controlbus.New()
	w := worker.New(bus)
	_, err = w.Start(ctx)
	require.NoError(t, err)

	eng := rowbatch.New(target, target, tmpDB, w, bus)
	err = eng.Run(ctx, run.ID, model.RunPolicy{TruncateMode: model.TruncateAuto}, []model.PartitionDescriptor{desc})
	require.NoError(t, err)

	got, err := tmpDB.Runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.DonePartitions)
	require.Equal(t, int64(42), got.TotalRows)
}
