// SPDX-License-Identifier: Apache-2.0

package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/partmove/partmove/internal/controlbus"
	"github.com/partmove/partmove/internal/worker"
)

func TestStartOnlyValidFromIdle(t *testing.T) {
	bus := controlbus.New()
	w := worker.New(bus)

	_, err := w.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, worker.StateRunning, w.State())

	_, err = w.Start(context.Background())
	require.ErrorIs(t, err, worker.ErrNotIdle)
}

func TestFinishCompletedWithNoError(t *testing.T) {
	bus := controlbus.New()
	w := worker.New(bus)

	_, err := w.Start(context.Background())
	require.NoError(t, err)

	w.Finish(nil)
	require.Equal(t, worker.StateCompleted, w.State())

	// Terminal states don't regress.
	w.Finish(errors.New("too late"))
	require.Equal(t, worker.StateCompleted, w.State())
}

func TestFinishFailedPropagatesError(t *testing.T) {
	bus := controlbus.New()
	w := worker.New(bus)

	_, err := w.Start(context.Background())
	require.NoError(t, err)

	w.Finish(errors.New("boom"))
	require.Equal(t, worker.StateFailed, w.State())
}

func TestPauseSuspendsUntilResume(t *testing.T) {
	bus := controlbus.New()
	w := worker.New(bus)

	ctx, err := w.Start(context.Background())
	require.NoError(t, err)

	bus.Pause <- struct{}{}
	require.Eventually(t, func() bool { return w.State() == worker.StatePaused }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- w.CheckPoint(ctx) }()

	select {
	case <-done:
		t.Fatal("CheckPoint returned while paused")
	case <-time.After(150 * time.Millisecond):
	}

	bus.Resume <- struct{}{}
	require.Eventually(t, func() bool { return w.State() == worker.StateRunning }, time.Second, time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("CheckPoint did not unblock after resume")
	}
}

func TestStopUnblocksCheckPointWithErrStopped(t *testing.T) {
	bus := controlbus.New()
	w := worker.New(bus)

	ctx, err := w.Start(context.Background())
	require.NoError(t, err)

	bus.Pause <- struct{}{}
	require.Eventually(t, func() bool { return w.State() == worker.StatePaused }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- w.CheckPoint(ctx) }()

	bus.Stop <- struct{}{}

	select {
	case err := <-done:
		require.ErrorIs(t, err, worker.ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("CheckPoint did not unblock after stop")
	}
}
