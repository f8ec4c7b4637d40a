// Package redis implements a state store on Redis strings.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/najoast/esgo/entity"
	"github.com/najoast/esgo/storage"
)

// DefaultPrefix namespaces snapshot keys.
const DefaultPrefix = "esgo:state:"

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewClient builds a client from cfg.
func NewClient(cfg Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, storage.ErrMissingConnection
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// StateStore persists each snapshot under prefix+key(id).
type StateStore[K comparable, S entity.State[K]] struct {
	client redis.Cmdable
	codec  *storage.StateCodec[K, S]
	key    storage.KeyFunc[K]
	prefix string
}

// NewStateStore creates a StateStore. An empty prefix uses DefaultPrefix and
// a nil key uses storage.DefaultKey.
func NewStateStore[K comparable, S entity.State[K]](client redis.Cmdable, stateCodec *storage.StateCodec[K, S], prefix string, key storage.KeyFunc[K]) (*StateStore[K, S], error) {
	if client == nil {
		return nil, storage.ErrMissingConnection
	}
	if stateCodec == nil {
		return nil, storage.ErrNilSerializer
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if key == nil {
		key = storage.DefaultKey[K]
	}
	return &StateStore[K, S]{client: client, codec: stateCodec, key: key, prefix: prefix}, nil
}

// Key returns the redis key holding the snapshot of id.
func (s *StateStore[K, S]) Key(id K) string {
	return s.prefix + s.key(id)
}

// GetByID returns the snapshot of id.
func (s *StateStore[K, S]) GetByID(ctx context.Context, id K) (S, bool, error) {
	var zero S
	data, err := s.client.Get(ctx, s.Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get %s: %w", s.Key(id), err)
	}
	state, err := s.codec.Decode(data)
	if err != nil {
		return zero, false, err
	}
	return state, true, nil
}

// Insert stores the first snapshot of state with SET NX.
func (s *StateStore[K, S]) Insert(ctx context.Context, state S) error {
	key := s.Key(state.Base().StateID)
	data, err := s.codec.Encode(state)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrStateExists, key)
	}
	return nil
}

// Update overwrites the snapshot of state with SET XX.
func (s *StateStore[K, S]) Update(ctx context.Context, state S) error {
	key := s.Key(state.Base().StateID)
	data, err := s.codec.Encode(state)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setxx %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrStateNotFound, key)
	}
	return nil
}

// Close closes the client when it owns a connection pool.
func (s *StateStore[K, S]) Close() error {
	if c, ok := s.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
