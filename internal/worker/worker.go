// SPDX-License-Identifier: Apache-2.0

// Package worker implements the base worker state machine: the
// idle/running/paused/canceled/failed/completed lifecycle shared by both
// migration engines. context.Context cancellation is the stop token;
// pause has no native context primitive, so it is a separate atomic gate
// checked at the same suspension points.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/partmove/partmove/internal/controlbus"
)

const pausePollInterval = 100 * time.Millisecond

func afterPausePoll() <-chan time.Time {
	return time.After(pausePollInterval)
}

// State is the worker lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCanceled  State = "canceled"
	StateFailed    State = "failed"
	StateCompleted State = "completed"
)

func (s State) terminal() bool {
	return s == StateCanceled || s == StateFailed || s == StateCompleted
}

// ErrNotIdle is returned by Start when the worker has already started.
var ErrNotIdle = fmt.Errorf("worker: start is only valid from idle")

// ErrStopped is returned by CheckPoint (and propagated up through an
// engine's Run) when the run was stopped before or during an operation.
var ErrStopped = fmt.Errorf("worker: stopped")

// Worker tracks lifecycle state and the pause/cancel gates an engine must
// consult at every suspension point: before each network round-trip,
// before each batch, and at each progress tick.
type Worker struct {
	bus *controlbus.Bus

	state  atomic.Value // State
	paused atomic.Bool

	cancel context.CancelFunc
}

// New creates an idle Worker wired to bus for state/control events.
func New(bus *controlbus.Bus) *Worker {
	w := &Worker{bus: bus}
	w.state.Store(StateIdle)
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return w.state.Load().(State)
}

// Start transitions idle→running and returns a derived context whose
// cancellation is this worker's single internal stop token. It also starts
// a control-loop goroutine that translates bus.Pause/Resume/Stop into gate
// state until that context is done.
func (w *Worker) Start(ctx context.Context) (context.Context, error) {
	if w.State() != StateIdle {
		return nil, ErrNotIdle
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.setState(StateRunning, nil)

	go w.controlLoop(runCtx)

	return runCtx, nil
}

func (w *Worker) controlLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.bus.Pause:
			if !w.State().terminal() {
				w.paused.Store(true)
				w.setState(StatePaused, nil)
			}
		case <-w.bus.Resume:
			if w.State() == StatePaused {
				w.paused.Store(false)
				w.setState(StateRunning, nil)
			}
		case <-w.bus.Stop:
			w.paused.Store(false)
			w.cancel()
			return
		}
	}
}

// CheckPoint is the suspension-point gate an engine calls before every
// network round-trip, before each batch, and at each progress tick. It
// blocks while paused and returns ErrStopped as soon as ctx is canceled.
func (w *Worker) CheckPoint(ctx context.Context) error {
	for w.paused.Load() {
		select {
		case <-ctx.Done():
			return ErrStopped
		default:
		}
		// Pause suspends progress within 100ms; polling at that
		// granularity keeps resume latency bounded without busy-spinning.
		select {
		case <-ctx.Done():
			return ErrStopped
		case <-afterPausePoll():
		}
	}

	select {
	case <-ctx.Done():
		return ErrStopped
	default:
		return nil
	}
}

// Finish transitions running→completed, or running/paused→failed if err
// is non-nil, or to canceled if err is ErrStopped. Finish is a no-op if
// the worker is already in a terminal state.
func (w *Worker) Finish(err error) {
	if w.State().terminal() {
		return
	}

	switch {
	case err == nil:
		w.setState(StateCompleted, nil)
	case err == ErrStopped || err == context.Canceled:
		w.setState(StateCanceled, nil)
	default:
		w.setState(StateFailed, err)
	}
}

func (w *Worker) setState(s State, err error) {
	w.state.Store(s)
	w.bus.EmitState(controlbus.StateEvent{State: controlbus.WorkerState(s), Err: err})
}
