package entity

import (
	"context"
	"time"
)

// DefaultCatchUpPageSize is the number of events fetched per catch-up page.
const DefaultCatchUpPageSize = 1000

// DefaultSnapshotInterval is the version interval between snapshots.
const DefaultSnapshotInterval = 100

// EventStorage reads an entity's event log.
type EventStorage[K comparable] interface {
	// GetList returns up to limit events of id with version greater than
	// afterVersion, ascending by version. afterTime is the version time of
	// the caller's state; it may guide a lookup but must not exclude events,
	// since event clocks are not guaranteed to be monotonic.
	GetList(ctx context.Context, id K, afterVersion uint64, limit int, afterTime time.Time) ([]EventRecord, error)
}

// StateStorage persists entity snapshots.
type StateStorage[K comparable, S State[K]] interface {
	// GetByID returns the stored state; found is false when none exists.
	GetByID(ctx context.Context, id K) (state S, found bool, err error)

	// Insert stores a state for the first time.
	Insert(ctx context.Context, state S) error

	// Update overwrites a previously inserted state.
	Update(ctx context.Context, state S) error
}
