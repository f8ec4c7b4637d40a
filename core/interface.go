package core

import (
	"context"
)

// Actor is a single-writer executor: it runs queued turns one at a time on
// its own goroutine.
type Actor interface {
	// ID returns the unique identifier of this Actor.
	ID() ActorID

	// Start begins the Actor's turn loop.
	// It should be called only once per Actor instance.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the Actor.
	Stop() error

	// Send queues a turn without waiting for it.
	// It returns an error if the Actor is stopped or the mailbox is full.
	Send(turn Turn) error

	// Call queues a turn and blocks until it completes or ctx is done.
	Call(ctx context.Context, turn Turn) error

	// Stats returns current runtime statistics for this Actor.
	Stats() ActorStats
}

// Directory maps actor ids to running Actors.
type Directory interface {
	// Register adds an Actor to the directory.
	Register(actor Actor) error

	// Unregister removes an Actor from the directory.
	Unregister(id ActorID) error

	// Lookup finds an Actor by its ID.
	Lookup(id ActorID) (Actor, bool)

	// List returns all registered Actor IDs.
	List() []ActorID

	// Len returns the number of registered Actors.
	Len() int
}
