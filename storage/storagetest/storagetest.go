// Package storagetest holds fixtures and a conformance suite shared by the
// storage backend tests.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/esgo/codec"
	"github.com/najoast/esgo/entity"
	"github.com/najoast/esgo/storage"
)

// Tally is a minimal entity state.
type Tally struct {
	entity.StateBase[string]
	Total int `json:"total" cbor:"total"`
}

// Counted is a minimal event.
type Counted struct {
	entity.EventBase
	By int `json:"by" cbor:"by"`
}

// Poke is a direct message; it must never come back from an event log.
type Poke struct {
	entity.MessageBase
}

// Type codes registered by NewRegistry.
const (
	CodeCounted = "counted"
	CodePoke    = "poke"
)

// NewRegistry returns a registry knowing Counted and Poke.
func NewRegistry() *codec.Registry {
	r := codec.NewRegistry()
	r.MustRegister(CodeCounted, func() any { return new(Counted) })
	r.MustRegister(CodePoke, func() any { return new(Poke) })
	return r
}

// NewDecoder returns a JSON decoder over NewRegistry.
func NewDecoder(t testing.TB) *codec.Decoder {
	t.Helper()
	dec, err := codec.NewDecoder(NewRegistry(), codec.JSON{})
	require.NoError(t, err)
	return dec
}

// NewStateCodec returns a JSON state codec for Tally.
func NewStateCodec(t testing.TB) *storage.StateCodec[string, *Tally] {
	t.Helper()
	c, err := storage.NewStateCodec[string, *Tally](codec.JSON{}, func() *Tally { return new(Tally) })
	require.NoError(t, err)
	return c
}

// At returns a deterministic UTC timestamp for version v.
func At(v uint64) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(v) * time.Minute)
}

// CountedEnvelope seals a Counted event at version v.
func CountedEnvelope(t testing.TB, v uint64, by int) codec.Envelope {
	t.Helper()
	env, err := codec.Seal(codec.JSON{}, CodeCounted, &Counted{
		EventBase: entity.EventBase{Version: v, Timestamp: At(v)},
		By:        by,
	})
	require.NoError(t, err)
	return env
}

// EventLog is the surface every event store backend offers.
type EventLog interface {
	entity.EventStorage[string]
	Append(ctx context.Context, id string, version uint64, occurredAt time.Time, env codec.Envelope) error
}

// RunEventLog exercises paging, ordering and duplicate detection.
func RunEventLog(t *testing.T, log EventLog) {
	ctx := context.Background()

	for _, v := range []uint64{3, 1, 2, 5, 4} {
		require.NoError(t, log.Append(ctx, "a", v, At(v), CountedEnvelope(t, v, int(v))))
	}
	require.NoError(t, log.Append(ctx, "b", 1, At(1), CountedEnvelope(t, 1, 100)))

	t.Run("pages ascending", func(t *testing.T) {
		page, err := log.GetList(ctx, "a", 1, 2, At(1))
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, uint64(2), page[0].Event.EventVersion())
		assert.Equal(t, uint64(3), page[1].Event.EventVersion())
		assert.Equal(t, CodeCounted, page[0].TypeCode)
		assert.NotEmpty(t, page[0].ID)
		assert.True(t, page[0].Event.EventTime().Equal(At(2)))
	})

	t.Run("tail", func(t *testing.T) {
		page, err := log.GetList(ctx, "a", 3, 1000, At(3))
		require.NoError(t, err)
		require.Len(t, page, 2)
		counted, ok := page[1].Event.(*Counted)
		require.True(t, ok)
		assert.Equal(t, 5, counted.By)
	})

	t.Run("past the end", func(t *testing.T) {
		page, err := log.GetList(ctx, "a", 5, 1000, At(5))
		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("streams are isolated", func(t *testing.T) {
		page, err := log.GetList(ctx, "b", 0, 1000, time.Time{})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, 100, page[0].Event.(*Counted).By)
	})

	t.Run("time does not filter", func(t *testing.T) {
		// v2 is stamped before v1.
		require.NoError(t, log.Append(ctx, "skew", 1, At(10), CountedEnvelope(t, 1, 1)))
		require.NoError(t, log.Append(ctx, "skew", 2, At(2), CountedEnvelope(t, 2, 2)))

		page, err := log.GetList(ctx, "skew", 1, 10, At(10))
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, uint64(2), page[0].Event.EventVersion())
	})

	t.Run("duplicate version", func(t *testing.T) {
		err := log.Append(ctx, "a", 2, At(2), CountedEnvelope(t, 2, 9))
		assert.True(t, errors.Is(err, storage.ErrDuplicateVersion), "got %v", err)
	})

	t.Run("zero version", func(t *testing.T) {
		err := log.Append(ctx, "a", 0, At(0), CountedEnvelope(t, 0, 9))
		assert.ErrorIs(t, err, storage.ErrInvalidVersion)
	})

	t.Run("non-event payload", func(t *testing.T) {
		env, err := codec.Seal(codec.JSON{}, CodePoke, &Poke{})
		require.NoError(t, err)
		require.NoError(t, log.Append(ctx, "c", 1, At(1), env))

		_, err = log.GetList(ctx, "c", 0, 10, time.Time{})
		assert.ErrorIs(t, err, storage.ErrNotEvent)
	})
}

// RunStateStore exercises the insert-once, update-after contract.
func RunStateStore(t *testing.T, store entity.StateStorage[string, *Tally]) {
	ctx := context.Background()

	_, found, err := store.GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	err = store.Update(ctx, &Tally{StateBase: entity.StateBase[string]{StateID: "missing", Version: 1}})
	assert.ErrorIs(t, err, storage.ErrStateNotFound)

	s := &Tally{StateBase: entity.StateBase[string]{StateID: "t1", Version: 100, VersionTime: At(100)}, Total: 7}
	require.NoError(t, store.Insert(ctx, s))
	assert.ErrorIs(t, store.Insert(ctx, s), storage.ErrStateExists)

	got, found, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(100), got.Version)
	assert.True(t, got.VersionTime.Equal(At(100)))
	assert.Equal(t, 7, got.Total)
	assert.Equal(t, "t1", got.StateID)

	s.Version = 200
	s.VersionTime = At(200)
	s.Total = 11
	require.NoError(t, store.Update(ctx, s))

	got, found, err = store.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(200), got.Version)
	assert.Equal(t, 11, got.Total)

	// The stored snapshot does not alias the caller's value.
	s.Total = 99
	got, _, err = store.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 11, got.Total)
}
