package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/najoast/esgo/entity"
	"github.com/najoast/esgo/storage"
)

// StateStore persists snapshots in the states table.
type StateStore[K comparable, S entity.State[K]] struct {
	db    *DB
	codec *storage.StateCodec[K, S]
	key   storage.KeyFunc[K]
	now   func() time.Time
}

// NewStateStore creates a StateStore over db. A nil key uses
// storage.DefaultKey.
func NewStateStore[K comparable, S entity.State[K]](db *DB, stateCodec *storage.StateCodec[K, S], key storage.KeyFunc[K]) (*StateStore[K, S], error) {
	if db == nil {
		return nil, storage.ErrMissingConnection
	}
	if stateCodec == nil {
		return nil, storage.ErrNilSerializer
	}
	if key == nil {
		key = storage.DefaultKey[K]
	}
	return &StateStore[K, S]{db: db, codec: stateCodec, key: key, now: time.Now}, nil
}

// GetByID returns the snapshot of id.
func (s *StateStore[K, S]) GetByID(ctx context.Context, id K) (S, bool, error) {
	var zero S
	var payload []byte
	err := s.db.sqlDB.QueryRowContext(ctx,
		"SELECT payload FROM states WHERE entity_id = ?", s.key(id),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("get state %s: %w", s.key(id), err)
	}

	state, err := s.codec.Decode(payload)
	if err != nil {
		return zero, false, err
	}
	return state, true, nil
}

// Insert stores the first snapshot of state.
func (s *StateStore[K, S]) Insert(ctx context.Context, state S) error {
	base := state.Base()
	entityID := s.key(base.StateID)
	payload, err := s.codec.Encode(state)
	if err != nil {
		return err
	}

	_, err = s.db.sqlDB.ExecContext(ctx,
		`INSERT INTO states (entity_id, version, version_time, serializer, payload, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		entityID, int64(base.Version), toNanos(base.VersionTime), s.codec.Serializer().Name(), payload, toNanos(s.now()),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", storage.ErrStateExists, entityID)
		}
		return fmt.Errorf("insert state %s: %w", entityID, err)
	}
	return nil
}

// Update overwrites the snapshot of state.
func (s *StateStore[K, S]) Update(ctx context.Context, state S) error {
	base := state.Base()
	entityID := s.key(base.StateID)
	payload, err := s.codec.Encode(state)
	if err != nil {
		return err
	}

	res, err := s.db.sqlDB.ExecContext(ctx,
		`UPDATE states SET version = ?, version_time = ?, serializer = ?, payload = ?, updated_at = ?
WHERE entity_id = ?`,
		int64(base.Version), toNanos(base.VersionTime), s.codec.Serializer().Name(), payload, toNanos(s.now()), entityID,
	)
	if err != nil {
		return fmt.Errorf("update state %s: %w", entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update state %s: %w", entityID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrStateNotFound, entityID)
	}
	return nil
}

// Close is a no-op; close the DB instead.
func (s *StateStore[K, S]) Close() error {
	return nil
}
