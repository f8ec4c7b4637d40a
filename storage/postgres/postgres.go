// Package postgres implements event and state stores on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/najoast/esgo/codec"
	"github.com/najoast/esgo/entity"
	"github.com/najoast/esgo/storage"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, storage.ErrMissingConnection
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate executes the embedded schema files in name order. Every statement
// is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := fs.ReadFile(migrationFS, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// EventLog reads and appends events in esgo_events.
type EventLog[K comparable] struct {
	db      *sql.DB
	decoder *codec.Decoder
	key     storage.KeyFunc[K]
}

// NewEventLog creates an EventLog. A nil key uses storage.DefaultKey.
func NewEventLog[K comparable](db *sql.DB, decoder *codec.Decoder, key storage.KeyFunc[K]) (*EventLog[K], error) {
	if db == nil {
		return nil, storage.ErrMissingConnection
	}
	if decoder == nil {
		return nil, storage.ErrNilDecoder
	}
	if key == nil {
		key = storage.DefaultKey[K]
	}
	return &EventLog[K]{db: db, decoder: decoder, key: key}, nil
}

// Append stores env as version of id.
func (l *EventLog[K]) Append(ctx context.Context, id K, version uint64, occurredAt time.Time, env codec.Envelope) error {
	if version == 0 {
		return storage.ErrInvalidVersion
	}
	entityID := l.key(id)

	_, err := l.db.ExecContext(ctx,
		"INSERT INTO esgo_events (event_id, entity_id, version, occurred_at, type_code, payload) VALUES ($1, $2, $3, $4, $5, $6)",
		uuid.NewString(), entityID, int64(version), storage.NormalizeTime(occurredAt), env.TypeCode, env.BinaryBytes,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s v%d", storage.ErrDuplicateVersion, entityID, version)
		}
		return fmt.Errorf("append event %s v%d: %w", entityID, version, err)
	}
	return nil
}

// GetList returns up to limit events of id after afterVersion. afterTime is
// ignored; ordering and filtering use the version only.
func (l *EventLog[K]) GetList(ctx context.Context, id K, afterVersion uint64, limit int, afterTime time.Time) ([]entity.EventRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidPageLimit
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT event_id, type_code, payload, stored_at FROM esgo_events WHERE entity_id = $1 AND version > $2 ORDER BY version ASC LIMIT $3",
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
			storedAt time.Time
		)
		if err := rows.Scan(&eventID, &env.TypeCode, &env.BinaryBytes, &storedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec, err := storage.DecodeRecord(l.decoder, eventID, env, storedAt.UTC())
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

// Close is a no-op; the caller owns the *sql.DB.
func (l *EventLog[K]) Close() error {
	return nil
}

// StateStore persists snapshots in esgo_states.
type StateStore[K comparable, S entity.State[K]] struct {
	db    *sql.DB
	codec *storage.StateCodec[K, S]
	key   storage.KeyFunc[K]
}

// NewStateStore creates a StateStore. A nil key uses storage.DefaultKey.
func NewStateStore[K comparable, S entity.State[K]](db *sql.DB, stateCodec *storage.StateCodec[K, S], key storage.KeyFunc[K]) (*StateStore[K, S], error) {
	if db == nil {
		return nil, storage.ErrMissingConnection
	}
	if stateCodec == nil {
		return nil, storage.ErrNilSerializer
	}
	if key == nil {
		key = storage.DefaultKey[K]
	}
	return &StateStore[K, S]{db: db, codec: stateCodec, key: key}, nil
}

// GetByID returns the snapshot of id.
func (s *StateStore[K, S]) GetByID(ctx context.Context, id K) (S, bool, error) {
	var zero S
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM esgo_states WHERE entity_id = $1", s.key(id)).Scan(&payload)
	if err == sql.ErrNoRows {
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

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO esgo_states (entity_id, version, version_time, serializer, payload) VALUES ($1, $2, $3, $4, $5)",
		entityID, int64(base.Version), storage.NormalizeTime(base.VersionTime), s.codec.Serializer().Name(), payload,
	)
	if err != nil {
		if isUniqueViolation(err) {
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

	res, err := s.db.ExecContext(ctx,
		"UPDATE esgo_states SET version = $1, version_time = $2, serializer = $3, payload = $4, updated_at = NOW() WHERE entity_id = $5",
		int64(base.Version), storage.NormalizeTime(base.VersionTime), s.codec.Serializer().Name(), payload, entityID,
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

// Close is a no-op; the caller owns the *sql.DB.
func (s *StateStore[K, S]) Close() error {
	return nil
}
