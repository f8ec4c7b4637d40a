package entity

import (
	"context"
	"fmt"
)

// Snapshot operations reported to metrics.
const (
	snapshotInsert = "insert"
	snapshotUpdate = "update"
)

func (e *Entity[K, S]) maybeSnapshot(ctx context.Context) error {
	if e.state.Base().Version%e.opts.snapshotInterval != 0 {
		return nil
	}
	return e.saveSnapshot(ctx)
}

// saveSnapshot inserts the state on first persistence and updates it after.
func (e *Entity[K, S]) saveSnapshot(ctx context.Context) error {
	version := e.state.Base().Version
	if e.isNew {
		if err := e.states.Insert(ctx, e.state); err != nil {
			return fmt.Errorf("%w: insert v%d: %w", ErrSnapshotPersist, version, err)
		}
		e.isNew = false
		e.metrics.SnapshotPersisted(ctx, e.opts.kind, snapshotInsert)
		e.logger.DebugContext(ctx, "snapshot inserted", "version", version)
		return nil
	}

	if err := e.states.Update(ctx, e.state); err != nil {
		return fmt.Errorf("%w: update v%d: %w", ErrSnapshotPersist, version, err)
	}
	e.metrics.SnapshotPersisted(ctx, e.opts.kind, snapshotUpdate)
	e.logger.DebugContext(ctx, "snapshot updated", "version", version)
	return nil
}
