// SPDX-License-Identifier: Apache-2.0

// Package controlbus implements the typed channel pair connecting an
// engine to its observer: progress/log/connection-status/
// confirmation-request/worker-state flow engine→observer, and pause/
// resume/stop/truncate-response flow observer→engine. Progress delivery is
// lossy-latest; state and confirmation delivery is reliable. A
// bidirectional bus lets a UI, the CLI, or a test observe and drive the
// engine without coupling to its internals.
package controlbus

import (
	"time"

	"github.com/partmove/partmove/pkg/model"
)

// WorkerState mirrors the base worker's lifecycle states.
type WorkerState string

const (
	StateIdle      WorkerState = "idle"
	StateRunning   WorkerState = "running"
	StatePaused    WorkerState = "paused"
	StateCanceled  WorkerState = "canceled"
	StateFailed    WorkerState = "failed"
	StateCompleted WorkerState = "completed"
)

// ProgressEvent is emitted no more often than once per second; the
// row-batch engine also emits one when a partition's last batch lands.
type ProgressEvent struct {
	PartitionIndex int
	PartitionName  string
	RowsThisPart   int64
	TotalRows      int64
	RowsPerSecEMA  float64
	MBPerSecEMA    float64
	ETA            time.Duration
	Timestamp      time.Time
}

// ConnectionStatusEvent reports a change in source/target reachability.
type ConnectionStatusEvent struct {
	Endpoint string // "source" or "target"
	Healthy  bool
	Detail   string
}

// ConfirmationRequest asks the observer whether to truncate a non-empty
// target partition. The engine blocks on Reply until the observer answers
// or the run is stopped.
type ConfirmationRequest struct {
	PartitionName string
	ExistingRows  int64
	Reply         chan bool
}

// StateEvent reports a worker lifecycle transition.
type StateEvent struct {
	State WorkerState
	Err   error
}

// Bus is the set of channels an engine uses to talk to its observer and
// vice versa. Zero value is not usable; construct with New.
type Bus struct {
	Logs                chan model.LogEntry
	Progress            chan ProgressEvent
	ConnectionStatus    chan ConnectionStatusEvent
	ConfirmationRequest chan ConfirmationRequest
	WorkerState         chan StateEvent

	Pause           chan struct{}
	Resume          chan struct{}
	Stop            chan struct{}
	TruncateReplies chan bool
}

// New allocates a Bus with the buffering the delivery semantics call
// for: progress and connection-status are single-slot and
// overwritten (lossy-latest); logs are a bounded buffer that drops its
// oldest entry when full; state and confirmations are small reliable
// buffers so a slow observer never blocks the engine for long but never
// silently drops a transition either.
func New() *Bus {
	return &Bus{
		Logs:                make(chan model.LogEntry, 256),
		Progress:            make(chan ProgressEvent, 1),
		ConnectionStatus:    make(chan ConnectionStatusEvent, 1),
		ConfirmationRequest: make(chan ConfirmationRequest, 1),
		WorkerState:         make(chan StateEvent, 16),

		Pause:           make(chan struct{}, 1),
		Resume:          make(chan struct{}, 1),
		Stop:            make(chan struct{}, 1),
		TruncateReplies: make(chan bool, 1),
	}
}

// EmitProgress performs a non-blocking send-and-drop-old: if the channel
// already holds an unread event, it is discarded in favor of the new one.
func (b *Bus) EmitProgress(ev ProgressEvent) {
	select {
	case b.Progress <- ev:
	default:
		select {
		case <-b.Progress:
		default:
		}
		select {
		case b.Progress <- ev:
		default:
		}
	}
}

// EmitConnectionStatus is the connection-status analogue of EmitProgress.
func (b *Bus) EmitConnectionStatus(ev ConnectionStatusEvent) {
	select {
	case b.ConnectionStatus <- ev:
	default:
		select {
		case <-b.ConnectionStatus:
		default:
		}
		select {
		case b.ConnectionStatus <- ev:
		default:
		}
	}
}

// EmitLog delivers a log entry without blocking; if the buffer is full,
// the oldest unread entry is dropped to make room.
func (b *Bus) EmitLog(entry model.LogEntry) {
	select {
	case b.Logs <- entry:
	default:
		// Buffer full: drop the oldest rather than block the engine
		// indefinitely, matching the bounded background log writer's
		// drop-oldest policy.
		select {
		case <-b.Logs:
		default:
		}
		select {
		case b.Logs <- entry:
		default:
		}
	}
}

// EmitState delivers a worker-state transition reliably.
func (b *Bus) EmitState(ev StateEvent) {
	b.WorkerState <- ev
}

// RequestConfirmation sends a confirmation request and blocks until the
// observer replies on its Reply channel or stop is signaled.
func (b *Bus) RequestConfirmation(req ConfirmationRequest) bool {
	b.ConfirmationRequest <- req
	select {
	case answer := <-req.Reply:
		return answer
	case <-b.Stop:
		return false
	}
}
