package entity

import (
	"time"
)

// StateBase holds the bookkeeping fields every entity state carries.
// Concrete states embed it.
type StateBase[K comparable] struct {
	// StateID is the entity identity
	StateID K `json:"state_id" cbor:"state_id"`

	// Version is the version of the last applied event
	Version uint64 `json:"version" cbor:"version"`

	// VersionTime is the timestamp of the last applied event
	VersionTime time.Time `json:"version_time" cbor:"version_time"`
}

// Base returns the embedded bookkeeping fields.
func (b *StateBase[K]) Base() *StateBase[K] {
	return b
}

// State is implemented by pointers to structs embedding StateBase.
type State[K comparable] interface {
	Base() *StateBase[K]
}

// Event is a versioned, immutable fact.
type Event interface {
	EventVersion() uint64
	EventTime() time.Time
}

// EventBase implements Event for embedding structs.
type EventBase struct {
	Version   uint64    `json:"version" cbor:"version"`
	Timestamp time.Time `json:"timestamp" cbor:"timestamp"`
}

// EventVersion returns the position of the event in the entity history.
func (e EventBase) EventVersion() uint64 { return e.Version }

// EventTime returns when the event happened.
func (e EventBase) EventTime() time.Time { return e.Timestamp }

// Message is a non-versioned command that bypasses the event log.
type Message interface {
	DirectMessage()
}

// MessageBase implements Message for embedding structs.
type MessageBase struct{}

// DirectMessage marks the embedding type as a direct message.
func (MessageBase) DirectMessage() {}

// EventRecord is an event fetched from an EventStorage with its metadata.
type EventRecord struct {
	Event    Event
	ID       string
	TypeCode string
	StoredAt time.Time
}

// eventState classifies an incoming event against the current version.
type eventState uint8

const (
	eventStale eventState = iota
	eventInOrder
	eventBehind
)

// String returns the string representation of eventState.
func (s eventState) String() string {
	switch s {
	case eventStale:
		return "stale"
	case eventInOrder:
		return "in_order"
	case eventBehind:
		return "behind"
	default:
		return "unknown"
	}
}

func classify(current, incoming uint64) eventState {
	switch {
	case incoming <= current:
		return eventStale
	case incoming == current+1:
		return eventInOrder
	default:
		return eventBehind
	}
}
