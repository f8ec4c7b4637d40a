package entity

import (
	"context"
	"errors"
)

// spawn runs unit on its own goroutine and blocks until it reports.
// The outcome channel has capacity one and is written exactly once, so the
// unit never blocks and the caller never sees two results. The caller
// always waits for the unit, which keeps handlers of one entity from
// overlapping even when the context is canceled.
func spawn(unit func() error) error {
	done := make(chan error, 1)
	go func() {
		// Handler panics are recovered inside unit so they reach the
		// FailureFilter. This recover covers the rest of unit, such as a
		// state store panicking during a snapshot.
		done <- safeCall(unit)
	}()
	return <-done
}

// safeCall converts a panic in fn into a *PanicError.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// runEvent executes the event handler and, on success or a tolerated
// failure, advances the version.
func (e *Entity[K, S]) runEvent(ctx context.Context, typeCode string, evt Event) error {
	return spawn(func() error {
		err := safeCall(func() error {
			return e.behavior.ApplyEvent(ctx, e.state, evt)
		})
		if err != nil {
			if isCancellation(err) {
				return &canceledError{cause: err}
			}
			tolerated := e.behavior.IsEventFailureTolerable(err)
			e.metrics.HandlerFailed(ctx, e.opts.kind, string(PathEvent), tolerated)
			if !tolerated {
				return &HandlerError{Path: PathEvent, TypeCode: typeCode, Version: evt.EventVersion(), Err: err}
			}
			e.logger.DebugContext(ctx, "event failure tolerated",
				"type_code", typeCode,
				"event_version", evt.EventVersion(),
				"error", err,
			)
		}
		return e.updateState(ctx, evt)
	})
}

// runMessage executes the direct message handler. The version never moves.
func (e *Entity[K, S]) runMessage(ctx context.Context, typeCode string, msg Message) error {
	return spawn(func() error {
		err := safeCall(func() error {
			return e.behavior.HandleMessage(ctx, e.state, msg)
		})
		if err == nil {
			return nil
		}
		if isCancellation(err) {
			return &canceledError{cause: err}
		}
		tolerated := e.behavior.IsMessageFailureTolerable(err)
		e.metrics.HandlerFailed(ctx, e.opts.kind, string(PathMessage), tolerated)
		if !tolerated {
			return &HandlerError{Path: PathMessage, TypeCode: typeCode, Err: err}
		}
		e.logger.DebugContext(ctx, "message failure tolerated", "type_code", typeCode, "error", err)
		return nil
	})
}
