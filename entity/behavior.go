package entity

import (
	"context"
)

// FailureFilter decides whether a handler failure is an acceptable
// business outcome. A tolerated event failure still advances the version.
type FailureFilter interface {
	IsEventFailureTolerable(err error) bool
	IsMessageFailureTolerable(err error) bool
}

// Behavior supplies the domain logic of a concrete entity type.
type Behavior[K comparable, S State[K]] interface {
	FailureFilter

	// NewState returns the initial state for an identity that has never
	// been persisted.
	NewState(id K) S

	// OutsideTypeCodes lists the type codes routed as direct messages.
	OutsideTypeCodes() []string

	// ApplyEvent folds evt into state.
	ApplyEvent(ctx context.Context, state S, evt Event) error

	// HandleMessage executes a direct message against state.
	HandleMessage(ctx context.Context, state S, msg Message) error
}

// Deactivator is an optional Behavior hook run when the host passivates
// an entity.
type Deactivator[K comparable, S State[K]] interface {
	OnDeactivate(ctx context.Context, state S) error
}

// RejectFailures is a FailureFilter that tolerates nothing.
// Behaviors embed it and override the methods they need.
type RejectFailures struct{}

// IsEventFailureTolerable returns false.
func (RejectFailures) IsEventFailureTolerable(error) bool { return false }

// IsMessageFailureTolerable returns false.
func (RejectFailures) IsMessageFailureTolerable(error) bool { return false }
