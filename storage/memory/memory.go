// Package memory provides in-process event and state stores for tests and
// single-node demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/najoast/esgo/codec"
	"github.com/najoast/esgo/entity"
	"github.com/najoast/esgo/storage"
)

type storedEvent struct {
	id         string
	version    uint64
	occurredAt time.Time
	storedAt   time.Time
	env        codec.Envelope
}

// EventLog keeps appended events per identity, ordered by version.
type EventLog[K comparable] struct {
	mu      sync.RWMutex
	decoder *codec.Decoder
	streams map[K][]storedEvent
	now     func() time.Time
}

// NewEventLog creates an empty EventLog that decodes with decoder.
func NewEventLog[K comparable](decoder *codec.Decoder) (*EventLog[K], error) {
	if decoder == nil {
		return nil, storage.ErrNilDecoder
	}
	return &EventLog[K]{
		decoder: decoder,
		streams: make(map[K][]storedEvent),
		now:     time.Now,
	}, nil
}

// Append stores env as version of id.
func (l *EventLog[K]) Append(ctx context.Context, id K, version uint64, occurredAt time.Time, env codec.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if version == 0 {
		return storage.ErrInvalidVersion
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stream := l.streams[id]
	idx := sort.Search(len(stream), func(i int) bool { return stream[i].version >= version })
	if idx < len(stream) && stream[idx].version == version {
		return fmt.Errorf("%w: %v v%d", storage.ErrDuplicateVersion, id, version)
	}

	rec := storedEvent{
		id:         uuid.NewString(),
		version:    version,
		occurredAt: storage.NormalizeTime(occurredAt),
		storedAt:   storage.NormalizeTime(l.now()),
		env:        codec.Envelope{TypeCode: env.TypeCode, BinaryBytes: append([]byte(nil), env.BinaryBytes...)},
	}
	stream = append(stream, storedEvent{})
	copy(stream[idx+1:], stream[idx:])
	stream[idx] = rec
	l.streams[id] = stream
	return nil
}

// GetList returns up to limit events of id after afterVersion. afterTime is
// ignored.
func (l *EventLog[K]) GetList(ctx context.Context, id K, afterVersion uint64, limit int, afterTime time.Time) ([]entity.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, storage.ErrInvalidPageLimit
	}

	l.mu.RLock()
	stream := l.streams[id]
	start := sort.Search(len(stream), func(i int) bool { return stream[i].version > afterVersion })
	end := min(start+limit, len(stream))
	page := append([]storedEvent(nil), stream[start:end]...)
	l.mu.RUnlock()

	records := make([]entity.EventRecord, 0, len(page))
	for _, se := range page {
		rec, err := storage.DecodeRecord(l.decoder, se.id, se.env, se.storedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Len returns the number of events stored for id.
func (l *EventLog[K]) Len(id K) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.streams[id])
}

// Close is a no-op.
func (l *EventLog[K]) Close() error {
	return nil
}

// StateStore keeps serialized snapshots so stored states never alias the
// live entity state.
type StateStore[K comparable, S entity.State[K]] struct {
	mu     sync.RWMutex
	codec  *storage.StateCodec[K, S]
	states map[K][]byte
}

// NewStateStore creates an empty StateStore.
func NewStateStore[K comparable, S entity.State[K]](stateCodec *storage.StateCodec[K, S]) (*StateStore[K, S], error) {
	if stateCodec == nil {
		return nil, storage.ErrNilSerializer
	}
	return &StateStore[K, S]{codec: stateCodec, states: make(map[K][]byte)}, nil
}

// GetByID returns the snapshot of id.
func (s *StateStore[K, S]) GetByID(ctx context.Context, id K) (S, bool, error) {
	var zero S
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	s.mu.RLock()
	data, ok := s.states[id]
	s.mu.RUnlock()
	if !ok {
		return zero, false, nil
	}

	state, err := s.codec.Decode(data)
	if err != nil {
		return zero, false, err
	}
	return state, true, nil
}

// Insert stores the first snapshot of state.
func (s *StateStore[K, S]) Insert(ctx context.Context, state S) error {
	return s.put(ctx, state, false)
}

// Update overwrites the snapshot of state.
func (s *StateStore[K, S]) Update(ctx context.Context, state S) error {
	return s.put(ctx, state, true)
}

func (s *StateStore[K, S]) put(ctx context.Context, state S, exists bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.codec.Encode(state)
	if err != nil {
		return err
	}
	id := state.Base().StateID

	s.mu.Lock()
	defer s.mu.Unlock()

	_, found := s.states[id]
	switch {
	case exists && !found:
		return fmt.Errorf("%w: %v", storage.ErrStateNotFound, id)
	case !exists && found:
		return fmt.Errorf("%w: %v", storage.ErrStateExists, id)
	}
	s.states[id] = data
	return nil
}

// Close is a no-op.
func (s *StateStore[K, S]) Close() error {
	return nil
}
