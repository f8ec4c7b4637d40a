// Package storage holds the pieces shared by the event and state store
// backends: identity keys, record decoding and state serialization.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/najoast/esgo/codec"
	"github.com/najoast/esgo/entity"
)

var (
	ErrNilDecoder        = errors.New("decoder is required")
	ErrNilSerializer     = errors.New("serializer is required")
	ErrNilStateFactory   = errors.New("state factory is required")
	ErrDuplicateVersion  = errors.New("event version already stored")
	ErrInvalidVersion    = errors.New("event version must be positive")
	ErrNotEvent          = errors.New("stored payload is not an event")
	ErrStateExists       = errors.New("state already inserted")
	ErrStateNotFound     = errors.New("state not found")
	ErrInvalidPageLimit  = errors.New("page limit must be positive")
	ErrMissingConnection = errors.New("connection settings are required")
)

// KeyFunc renders an entity identity as a storage key.
type KeyFunc[K comparable] func(id K) string

// DefaultKey formats id with fmt.Sprint.
func DefaultKey[K comparable](id K) string {
	return fmt.Sprint(id)
}

// DecodeRecord turns a stored envelope back into an EventRecord.
// Payloads that decode to nothing or lack the Event capability are errors,
// since an event log must only hold events.
func DecodeRecord(dec *codec.Decoder, eventID string, env codec.Envelope, storedAt time.Time) (entity.EventRecord, error) {
	payload, ok, err := dec.Decode(env)
	if err != nil {
		return entity.EventRecord{}, fmt.Errorf("event %s: %w", eventID, err)
	}
	if !ok {
		return entity.EventRecord{}, fmt.Errorf("%w: event %s has type %q", ErrNotEvent, eventID, env.TypeCode)
	}
	evt, isEvent := payload.(entity.Event)
	if !isEvent {
		return entity.EventRecord{}, fmt.Errorf("%w: event %s has type %q", ErrNotEvent, eventID, env.TypeCode)
	}
	return entity.EventRecord{
		Event:    evt,
		ID:       eventID,
		TypeCode: env.TypeCode,
		StoredAt: storedAt,
	}, nil
}

// StateCodec serializes snapshots of S.
type StateCodec[K comparable, S entity.State[K]] struct {
	serializer codec.Serializer
	newState   func() S
}

// NewStateCodec creates a StateCodec. newState must return a fresh,
// non-nil S to decode into.
func NewStateCodec[K comparable, S entity.State[K]](serializer codec.Serializer, newState func() S) (*StateCodec[K, S], error) {
	if serializer == nil {
		return nil, ErrNilSerializer
	}
	if newState == nil {
		return nil, ErrNilStateFactory
	}
	return &StateCodec[K, S]{serializer: serializer, newState: newState}, nil
}

// Encode serializes state.
func (c *StateCodec[K, S]) Encode(state S) ([]byte, error) {
	data, err := c.serializer.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("%w: state: %v", codec.ErrEncode, err)
	}
	return data, nil
}

// Decode deserializes a stored snapshot.
func (c *StateCodec[K, S]) Decode(data []byte) (S, error) {
	state := c.newState()
	if err := c.serializer.Unmarshal(data, state); err != nil {
		var zero S
		return zero, fmt.Errorf("%w: state: %v", codec.ErrDecode, err)
	}
	return state, nil
}

// Serializer returns the underlying serializer.
func (c *StateCodec[K, S]) Serializer() codec.Serializer {
	return c.serializer
}

// NormalizeTime drops the monotonic reading and converts to UTC so stored
// times compare equal after a round trip.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Round(0)
}
