package core

import (
	"context"
	"log/slog"
	"time"
)

// ActorID identifies an Actor inside a System.
type ActorID string

// Turn is one unit of work executed on an Actor's goroutine.
// Turns of the same Actor never overlap.
type Turn func(ctx context.Context) error

// ActorState represents the current state of an Actor.
type ActorState uint8

const (
	// ActorStateIdle means the Actor is waiting for turns
	ActorStateIdle ActorState = iota

	// ActorStateRunning means the Actor is executing a turn
	ActorStateRunning

	// ActorStateStopping means the Actor is shutting down
	ActorStateStopping

	// ActorStateStopped means the Actor has been stopped
	ActorStateStopped
)

// String returns the string representation of ActorState.
func (s ActorState) String() string {
	switch s {
	case ActorStateIdle:
		return "idle"
	case ActorStateRunning:
		return "running"
	case ActorStateStopping:
		return "stopping"
	case ActorStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ActorOptions contains configuration options for creating an Actor.
type ActorOptions struct {
	// MailboxSize sets the size of the Actor's turn queue
	MailboxSize int

	// Name is a human-readable name for the Actor
	Name string

	// ProcessTimeout bounds a single turn. Zero disables the bound.
	ProcessTimeout time.Duration

	// IdleTimeout is how long the Actor may sit without turns before
	// OnIdle fires. Zero disables idle detection.
	IdleTimeout time.Duration

	// OnIdle is called on its own goroutine once per idle period.
	OnIdle func(id ActorID)

	// Init, when set, is queued ahead of every other turn.
	Init Turn

	// Logger receives turn failures of fire-and-forget sends
	Logger *slog.Logger
}

// DefaultActorOptions returns sensible default options.
func DefaultActorOptions() ActorOptions {
	return ActorOptions{
		MailboxSize:    1000,
		Name:           "",
		ProcessTimeout: 30 * time.Second,
	}
}

// ActorStats contains runtime statistics for an Actor.
type ActorStats struct {
	// ID of the Actor
	ID ActorID

	// Name of the Actor
	Name string

	// Current state
	State ActorState

	// Total turns executed
	TurnsProcessed uint64

	// Turns that returned an error or panicked
	TurnsFailed uint64

	// Turns currently queued
	MailboxSize int

	// Time when Actor was created
	CreatedAt time.Time

	// Time the last turn started
	LastTurnAt time.Time
}

// envelope is a queued turn. reply is nil for fire-and-forget sends.
type envelope struct {
	ctx   context.Context
	turn  Turn
	reply chan error
}
