// SPDX-License-Identifier: Apache-2.0

package streamcopy_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/partmove/partmove/internal/controlbus"
	"github.com/partmove/partmove/internal/engine/streamcopy"
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

func TestRunCopiesPartitionViaCopyProtocol(t *testing.T) {
	srcDB, _, tgtDB, _ := testutils.SourceAndTarget(t)
	source := &partdb.RDB{DB: srcDB}
	target := &partdb.RDB{DB: tgtDB}
	ctx := context.Background()

	srcBuilder := schemabuilder.New(source)
	require.NoError(t, srcBuilder.EnsureParent(ctx, model.TableTypeED))

	desc := model.PartitionDescriptor{
		ParentTable:   "environment_data",
		ChildTable:    "environment_data_240901",
		Type:          model.TableTypeED,
		FromDate:      time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		ToDate:        time.Date(2024, 9, 30, 23, 59, 59, 0, time.UTC).UnixMilli(),
		EstimatedRows: 3,
	}
	require.NoError(t, srcBuilder.EnsureChild(ctx, desc))

	for i := 0; i < 3; i++ {
		ts := time.UnixMilli(desc.FromDate + int64(i)*1000).UTC()
		_, err := source.DB.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (sensor_id, issued_date, station_id, value) VALUES ($1, $2, $3, $4)`, desc.ChildTable),
			int64(i), ts, "station-a", float64(i)*1.5,
		)
		require.NoError(t, err)
	}

	tgtBuilder := schemabuilder.New(target)
	require.NoError(t, tgtBuilder.EnsureParent(ctx, model.TableTypeED))

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

	eng := streamcopy.New(source, target, tmpDB, w, bus, model.CompatibilityV16)
	err = eng.Run(ctx, run.ID, model.RunPolicy{TruncateMode: model.TruncateAuto}, []model.PartitionDescriptor{desc})
	require.NoError(t, err)

	var count int64
	require.NoError(t, target.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", desc.ChildTable)).Scan(&count))
	require.Equal(t, int64(3), count)

	cp, err := tmpDB.Checkpoints.Get(ctx, run.ID, desc.ChildTable)
	require.NoError(t, err)
	require.Equal(t, model.CheckpointCompleted, cp.Status)
	require.Equal(t, int64(3), cp.RowsCopied)
}
