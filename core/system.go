package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SystemOption configures a System.
type SystemOption func(*System)

// WithLogger sets the logger passed to spawned Actors.
func WithLogger(logger *slog.Logger) SystemOption {
	return func(s *System) {
		s.logger = logger
	}
}

// WithMaxActors caps the number of live Actors. Zero means unbounded.
func WithMaxActors(n int) SystemOption {
	return func(s *System) {
		s.maxActors = n
	}
}

// System owns a set of Actors and their directory.
type System struct {
	dir       Directory
	mu        sync.Mutex
	maxActors int
	logger    *slog.Logger

	// System shutdown context
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSystem creates a new System instance.
func NewSystem(opts ...SystemOption) *System {
	ctx, cancel := context.WithCancel(context.Background())

	s := &System{
		dir:    NewDirectory(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Spawn creates, starts and registers an Actor under id.
func (s *System) Spawn(id ActorID, opts ActorOptions) (Actor, error) {
	actor, _, err := s.spawn(id, opts, false)
	return actor, err
}

// GetOrSpawn returns the Actor registered under id, spawning it with opts
// when absent. created reports whether a new Actor was started.
func (s *System) GetOrSpawn(id ActorID, opts ActorOptions) (actor Actor, created bool, err error) {
	if actor, ok := s.dir.Lookup(id); ok {
		return actor, false, nil
	}
	return s.spawn(id, opts, true)
}

func (s *System) spawn(id ActorID, opts ActorOptions, reuse bool) (Actor, bool, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, false, ErrEmptyActorID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check if system is shutting down
	select {
	case <-s.ctx.Done():
		return nil, false, ErrSystemShutdown
	default:
	}

	if existing, ok := s.dir.Lookup(id); ok {
		if reuse {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("%w: %s", ErrActorExists, id)
	}
	if s.maxActors > 0 && s.dir.Len() >= s.maxActors {
		return nil, false, fmt.Errorf("%w: %d actors", ErrSystemFull, s.maxActors)
	}

	if opts.Name == "" {
		opts.Name = string(id)
	}
	if opts.Logger == nil {
		opts.Logger = s.logger
	}

	actor := NewActor(id, opts)
	if err := actor.Start(s.ctx); err != nil {
		return nil, false, fmt.Errorf("failed to start actor: %w", err)
	}
	if err := s.dir.Register(actor); err != nil {
		_ = actor.Stop()
		return nil, false, fmt.Errorf("failed to register actor: %w", err)
	}

	return actor, true, nil
}

// Lookup retrieves an Actor by its ID.
func (s *System) Lookup(id ActorID) (Actor, bool) {
	return s.dir.Lookup(id)
}

// Remove unregisters the Actor and stops it. Removing only succeeds for
// the exact instance given, so a stale caller cannot evict a newer Actor
// spawned under the same id.
func (s *System) Remove(actor Actor) error {
	if actor == nil {
		return fmt.Errorf("cannot remove nil actor")
	}

	s.mu.Lock()
	current, ok := s.dir.Lookup(actor.ID())
	if !ok || current != actor {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrActorNotFound, actor.ID())
	}
	err := s.dir.Unregister(actor.ID())
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return actor.Stop()
}

// Len returns the number of live Actors.
func (s *System) Len() int {
	return s.dir.Len()
}

// List returns the ids of all live Actors.
func (s *System) List() []ActorID {
	return s.dir.List()
}

// Stats returns statistics for all Actors.
func (s *System) Stats() []ActorStats {
	var stats []ActorStats

	for _, id := range s.dir.List() {
		if actor, exists := s.dir.Lookup(id); exists {
			stats = append(stats, actor.Stats())
		}
	}

	return stats
}

// Shutdown refuses new Actors and stops every live Actor concurrently.
// It returns ctx.Err() if ctx ends before all Actors have stopped.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	var actors []Actor
	for _, id := range s.dir.List() {
		if actor, ok := s.dir.Lookup(id); ok {
			actors = append(actors, actor)
			_ = s.dir.Unregister(id)
		}
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, actor := range actors {
		g.Go(func() error {
			if err := actor.Stop(); err != nil {
				s.logger.Warn("actor stop failed", "component", "system", "actor", string(actor.ID()), "error", err)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
