package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/najoast/esgo/codec"
	"github.com/najoast/esgo/entity"
	"github.com/najoast/esgo/storage"
)

// EventLog reads and appends events in the events table.
type EventLog[K comparable] struct {
	db      *DB
	decoder *codec.Decoder
	key     storage.KeyFunc[K]
	now     func() time.Time
}

// NewEventLog creates an EventLog over db. A nil key uses storage.DefaultKey.
func NewEventLog[K comparable](db *DB, decoder *codec.Decoder, key storage.KeyFunc[K]) (*EventLog[K], error) {
	if db == nil {
		return nil, storage.ErrMissingConnection
	}
	if decoder == nil {
		return nil, storage.ErrNilDecoder
	}
	if key == nil {
		key = storage.DefaultKey[K]
	}
	return &EventLog[K]{db: db, decoder: decoder, key: key, now: time.Now}, nil
}

// Append stores env as version of id.
func (l *EventLog[K]) Append(ctx context.Context, id K, version uint64, occurredAt time.Time, env codec.Envelope) error {
	if version == 0 {
		return storage.ErrInvalidVersion
	}
	entityID := l.key(id)

	_, err := l.db.sqlDB.ExecContext(ctx,
		`INSERT INTO events (event_id, entity_id, version, occurred_at, type_code, payload, stored_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), entityID, int64(version), toNanos(occurredAt), env.TypeCode, env.BinaryBytes, toNanos(l.now()),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s v%d", storage.ErrDuplicateVersion, entityID, version)
		}
		return fmt.Errorf("append event %s v%d: %w", entityID, version, err)
	}
	return nil
}

// GetList returns up to limit events of id after afterVersion. afterTime is
// ignored; an event stamped earlier than its predecessor is still returned.
func (l *EventLog[K]) GetList(ctx context.Context, id K, afterVersion uint64, limit int, afterTime time.Time) ([]entity.EventRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidPageLimit
	}

	rows, err := l.db.sqlDB.QueryContext(ctx,
		`SELECT event_id, type_code, payload, stored_at
FROM events
WHERE entity_id = ? AND version > ?
ORDER BY version ASC
LIMIT ?`,
		l.key(id), int64(afterVersion), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var records []entity.EventRecord
	for rows.Next() {
		var (
			eventID  string
			env      codec.Envelope
			storedAt int64
		)
		if err := rows.Scan(&eventID, &env.TypeCode, &env.BinaryBytes, &storedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec, err := storage.DecodeRecord(l.decoder, eventID, env, fromNanos(storedAt))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// Close is a no-op; close the DB instead.
func (l *EventLog[K]) Close() error {
	return nil
}
