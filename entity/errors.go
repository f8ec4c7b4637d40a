package entity

import (
	"errors"
	"fmt"
)

// Construction errors
var (
	ErrBehaviorRequired     = errors.New("behavior is required")
	ErrDecoderRequired      = errors.New("decoder is required")
	ErrEventStoreRequired   = errors.New("event store is required")
	ErrStateStoreRequired   = errors.New("state store is required")
	ErrInvalidPageSize      = errors.New("catch-up page size must be positive")
	ErrInvalidSnapshotEvery = errors.New("snapshot interval must be positive")
)

// Turn errors
var (
	ErrNotActivated    = errors.New("entity is not activated")
	ErrCanceled        = errors.New("handler canceled")
	ErrVersionGap      = errors.New("event version gap")
	ErrCatchUpStalled  = errors.New("catch-up stalled before target version")
	ErrStateLoad       = errors.New("state load failed")
	ErrSnapshotPersist = errors.New("snapshot persist failed")
)

// HandlerPath names which handler produced an outcome.
type HandlerPath string

const (
	// PathEvent is the event handler path
	PathEvent HandlerPath = "event"

	// PathMessage is the direct message handler path
	PathMessage HandlerPath = "message"
)

// HandlerError reports a handler failure the FailureFilter rejected.
type HandlerError struct {
	Path     HandlerPath
	TypeCode string
	Version  uint64
	Err      error
}

func (e *HandlerError) Error() string {
	if e.Path == PathEvent {
		return fmt.Sprintf("%s handler failed for %s v%d: %v", e.Path, e.TypeCode, e.Version, e.Err)
	}
	return fmt.Sprintf("%s handler failed for %s: %v", e.Path, e.TypeCode, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// canceledError marks a handler outcome as canceled while keeping the
// context error reachable through errors.Is.
type canceledError struct {
	cause error
}

func (e *canceledError) Error() string {
	return fmt.Sprintf("%v: %v", ErrCanceled, e.cause)
}

func (e *canceledError) Unwrap() []error {
	return []error{ErrCanceled, e.cause}
}
