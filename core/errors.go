package core

import (
	"errors"
)

// Actor errors
var (
	ErrActorStopped   = errors.New("actor is stopped")
	ErrAlreadyStarted = errors.New("actor is already started")
	ErrMailboxFull    = errors.New("actor mailbox is full")
	ErrNilTurn        = errors.New("turn is nil")
	ErrTurnPanicked   = errors.New("turn panicked")
)

// System errors
var (
	ErrActorExists    = errors.New("actor already registered")
	ErrActorNotFound  = errors.New("actor not found")
	ErrEmptyActorID   = errors.New("actor id is empty")
	ErrSystemFull     = errors.New("actor system is at capacity")
	ErrSystemShutdown = errors.New("actor system is shutting down")
)
