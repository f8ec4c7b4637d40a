package entity

import (
	"context"
	"fmt"
)

// processEvent classifies evt against the current version and applies it,
// ignores it, or catches up first.
func (e *Entity[K, S]) processEvent(ctx context.Context, typeCode string, evt Event) error {
	current := e.state.Base().Version
	switch classify(current, evt.EventVersion()) {
	case eventStale:
		e.metrics.EventStale(ctx, e.opts.kind)
		e.logger.DebugContext(ctx, "stale event ignored",
			"type_code", typeCode,
			"event_version", evt.EventVersion(),
			"version", current,
		)
		return nil
	case eventInOrder:
		return e.runEvent(ctx, typeCode, evt)
	default:
		return e.catchUp(ctx, typeCode, evt)
	}
}

// catchUp replays stored events page by page until the version reaches the
// triggering event. Every page is applied in full.
func (e *Entity[K, S]) catchUp(ctx context.Context, typeCode string, trigger Event) error {
	target := trigger.EventVersion()
	e.metrics.CatchUpStarted(ctx, e.opts.kind)
	e.logger.DebugContext(ctx, "catch-up started",
		"version", e.state.Base().Version,
		"target", target,
	)

	for e.state.Base().Version < target {
		base := e.state.Base()
		before := base.Version

		records, err := e.events.GetList(ctx, e.id, base.Version, e.opts.pageSize, base.VersionTime)
		if err != nil {
			return fmt.Errorf("catch-up fetch after v%d: %w", before, err)
		}
		e.metrics.CatchUpFetched(ctx, e.opts.kind, len(records))

		for _, rec := range records {
			if rec.Event == nil {
				continue
			}
			current := e.state.Base().Version
			switch classify(current, rec.Event.EventVersion()) {
			case eventStale:
				continue
			case eventBehind:
				return fmt.Errorf("%w: expected v%d got v%d", ErrVersionGap, current+1, rec.Event.EventVersion())
			}
			if err := e.runEvent(ctx, rec.TypeCode, rec.Event); err != nil {
				return err
			}
		}

		if e.state.Base().Version == before {
			// The log has nothing newer; the trigger itself may be next.
			if classify(before, target) == eventInOrder {
				return e.runEvent(ctx, typeCode, trigger)
			}
			return fmt.Errorf("%w: at v%d, target v%d", ErrCatchUpStalled, before, target)
		}
	}

	e.logger.DebugContext(ctx, "catch-up finished", "version", e.state.Base().Version)
	return nil
}

// updateState advances the version to evt and snapshots on the interval.
func (e *Entity[K, S]) updateState(ctx context.Context, evt Event) error {
	base := e.state.Base()
	base.Version = evt.EventVersion()
	base.VersionTime = evt.EventTime()
	e.metrics.EventApplied(ctx, e.opts.kind)
	return e.maybeSnapshot(ctx)
}
