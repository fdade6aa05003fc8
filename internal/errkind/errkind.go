// SPDX-License-Identifier: Apache-2.0

// Package errkind classifies engine errors into the kinds the worker and
// CLI need to react to: retry, fail fast, fail the partition, or abort the
// run. It deliberately stays on errors.Is/errors.As rather than a generic
// error-taxonomy library, matching how the rest of this stack handles
// errors.
package errkind

import (
	"errors"

	"github.com/lib/pq"
)

// Kind is the category an error falls into for the purposes of the worker's
// retry and fail-fast policy.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindValidation
	KindSchemaConflict
	KindConfirmationDenied
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindSchemaConflict:
		return "schema_conflict"
	case KindConfirmationDenied:
		return "confirmation_denied"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// classified wraps an error with an explicit Kind.
type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Wrap annotates err with an explicit kind.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// ErrConfirmationDenied is returned when an observer declines a truncate
// confirmation request.
var ErrConfirmationDenied = Wrap(KindConfirmationDenied, errors.New("user declined truncate"))

// ErrCanceled is returned when a run is stopped mid-partition.
var ErrCanceled = Wrap(KindFatal, errors.New("canceled"))

// Postgres error codes this engine treats as transient.
const (
	codeSerializationFailure pq.ErrorCode = "40001"
	codeDeadlockDetected     pq.ErrorCode = "40P01"
	codeConnectionFailure    pq.ErrorCode = "08006"
	codeLockNotAvailable     pq.ErrorCode = "55P03"
)

// Classify inspects err and returns the Kind it should be treated as. An
// error already wrapped with Wrap keeps its explicit kind; otherwise a
// *pq.Error is classified by SQLSTATE, and anything else is KindFatal.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeConnectionFailure, codeLockNotAvailable:
			return KindTransient
		}
	}

	return KindFatal
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}
