package core

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// directory implements the Directory interface.
type directory struct {
	// Map of Actor ID to Actor instance
	actors sync.Map // map[ActorID]Actor

	count atomic.Int64
}

// NewDirectory creates a new Directory instance.
func NewDirectory() Directory {
	return &directory{}
}

// Register adds an Actor to the directory.
func (d *directory) Register(actor Actor) error {
	if actor == nil {
		return fmt.Errorf("cannot register nil actor")
	}

	id := actor.ID()
	if _, exists := d.actors.LoadOrStore(id, actor); exists {
		return fmt.Errorf("%w: %s", ErrActorExists, id)
	}
	d.count.Add(1)

	return nil
}

// Unregister removes an Actor from the directory.
func (d *directory) Unregister(id ActorID) error {
	if _, exists := d.actors.LoadAndDelete(id); !exists {
		return fmt.Errorf("%w: %s", ErrActorNotFound, id)
	}
	d.count.Add(-1)

	return nil
}

// Lookup finds an Actor by its ID.
func (d *directory) Lookup(id ActorID) (Actor, bool) {
	if actor, exists := d.actors.Load(id); exists {
		return actor.(Actor), true
	}
	return nil, false
}

// List returns all registered Actor IDs.
func (d *directory) List() []ActorID {
	var ids []ActorID

	d.actors.Range(func(key, value any) bool {
		ids = append(ids, key.(ActorID))
		return true
	})

	return ids
}

// Len returns the number of registered Actors.
func (d *directory) Len() int {
	return int(d.count.Load())
}
