// Package host runs entities on the core actor runtime: one actor per
// identity, spawned on first use and passivated when idle.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/najoast/esgo/codec"
	"github.com/najoast/esgo/config"
	"github.com/najoast/esgo/core"
	"github.com/najoast/esgo/entity"
	"github.com/najoast/esgo/logging"
	"github.com/najoast/esgo/storage"
	"github.com/najoast/esgo/telemetry"
)

var (
	// ErrCapacity is returned when MaxEntities entities are resident.
	ErrCapacity = errors.New("host: entity capacity reached")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("host: closed")

	errRetired = errors.New("host: entity passivated")
	errBusy    = errors.New("host: entity busy")
)

// Option configures a Host.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics
	kind    string
}

// WithLogger sets the logger for the host and its entities.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink for the host and its entities.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithKind names the entity type in logs and metrics.
func WithKind(kind string) Option {
	return func(o *options) {
		o.kind = kind
	}
}

// resident is one incarnation of an entity on an actor.
type resident[K comparable, S entity.State[K]] struct {
	id      K
	ent     *entity.Entity[K, S]
	actor   core.Actor // guarded by Host.mu
	retired atomic.Bool
}

// Host routes envelopes to entities by identity.
type Host[K comparable, S entity.State[K]] struct {
	behavior entity.Behavior[K, S]
	deps     entity.Deps[K, S]
	cfg      config.EntityConfig
	key      storage.KeyFunc[K]
	system   *core.System

	mu        sync.Mutex
	residents map[K]*resident[K, S]
	gen       uint64
	closed    bool

	opts    options
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// New creates a Host. Entities are built with deps and the snapshot and
// catch-up settings of cfg.
func New[K comparable, S entity.State[K]](behavior entity.Behavior[K, S], deps entity.Deps[K, S], cfg config.EntityConfig, opts ...Option) (*Host[K, S], error) {
	switch {
	case behavior == nil:
		return nil, entity.ErrBehaviorRequired
	case deps.Decoder == nil:
		return nil, entity.ErrDecoderRequired
	case deps.Events == nil:
		return nil, entity.ErrEventStoreRequired
	case deps.States == nil:
		return nil, entity.ErrStateStoreRequired
	}

	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.kind == "" {
		o.kind = strings.TrimPrefix(fmt.Sprintf("%T", behavior), "*")
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = entity.DefaultSnapshotInterval
	}
	if cfg.CatchUpPageSize <= 0 {
		cfg.CatchUpPageSize = entity.DefaultCatchUpPageSize
	}

	logger := o.logger.With("component", "host", "entity", o.kind)
	return &Host[K, S]{
		behavior:  behavior,
		deps:      deps,
		cfg:       cfg,
		key:       storage.DefaultKey[K],
		system:    core.NewSystem(core.WithLogger(logger), core.WithMaxActors(cfg.MaxEntities)),
		residents: make(map[K]*resident[K, S]),
		opts:      o,
		logger:    logger,
		metrics:   o.metrics,
	}, nil
}

// Tell runs env against the entity id in one turn and returns its outcome.
func (h *Host[K, S]) Tell(ctx context.Context, id K, env codec.Envelope) error {
	return h.call(ctx, id, func(ctx context.Context, ent *entity.Entity[K, S]) error {
		return ent.Tell(ctx, env)
	})
}

// Post queues env for the entity id without waiting. Turn failures are
// logged.
func (h *Host[K, S]) Post(id K, env codec.Envelope) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var r *resident[K, S]
		r, err = h.acquire(id)
		if err != nil {
			return err
		}
		err = h.actorOf(r).Send(h.postTurn(r, env))
		if !errors.Is(err, core.ErrActorStopped) {
			return err
		}
	}
	return err
}

// Inspect runs fn with the activated state of id inside a turn. fn must not
// retain state.
func (h *Host[K, S]) Inspect(ctx context.Context, id K, fn func(state S) error) error {
	return h.call(ctx, id, func(ctx context.Context, ent *entity.Entity[K, S]) error {
		return fn(ent.State())
	})
}

// Deactivate passivates id if it is resident.
func (h *Host[K, S]) Deactivate(ctx context.Context, id K) error {
	h.mu.Lock()
	r, ok := h.residents[id]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return h.retire(ctx, r, true)
}

// Active returns the identities currently resident.
func (h *Host[K, S]) Active() []K {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]K, 0, len(h.residents))
	for id, r := range h.residents {
		if !r.retired.Load() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Stats returns the runtime statistics of every entity actor.
func (h *Host[K, S]) Stats() []core.ActorStats {
	return h.system.Stats()
}

// Shutdown deactivates every resident entity and stops their actors.
// Every resident is attempted; the first deactivation failure is returned
// together with any error stopping the actors.
func (h *Host[K, S]) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	residents := make([]*resident[K, S], 0, len(h.residents))
	for _, r := range h.residents {
		residents = append(residents, r)
	}
	h.mu.Unlock()

	// A plain Group: one failing hook must not cancel the others.
	var g errgroup.Group
	for _, r := range residents {
		g.Go(func() error {
			err := h.retire(ctx, r, true)
			if err == nil || errors.Is(err, errRetired) {
				return nil
			}
			h.logger.Warn("deactivate on shutdown failed", "id", h.key(r.id), "error", err)
			return err
		})
	}
	deactivateErr := g.Wait()

	return errors.Join(deactivateErr, h.system.Shutdown(ctx))
}

// call runs fn on the entity's actor, retrying once when the turn raced a
// passivation.
func (h *Host[K, S]) call(ctx context.Context, id K, fn func(context.Context, *entity.Entity[K, S]) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var r *resident[K, S]
		r, err = h.acquire(id)
		if err != nil {
			return err
		}
		err = h.actorOf(r).Call(ctx, h.turn(r, fn))
		if !errors.Is(err, errRetired) && !errors.Is(err, core.ErrActorStopped) {
			return err
		}
	}
	return err
}

func (h *Host[K, S]) turn(r *resident[K, S], fn func(context.Context, *entity.Entity[K, S]) error) core.Turn {
	return func(ctx context.Context) error {
		if r.retired.Load() {
			return errRetired
		}
		ctx = logging.WithCorrelationID(ctx, uuid.NewString())
		start := time.Now()

		err := r.ent.Activate(ctx)
		if err == nil {
			err = fn(ctx, r.ent)
		}

		h.metrics.TurnCompleted(ctx, h.opts.kind, time.Since(start), err != nil)
		if err != nil {
			h.logger.DebugContext(ctx, "turn failed", "id", h.key(r.id), "error", err)
		}
		return err
	}
}

func (h *Host[K, S]) postTurn(r *resident[K, S], env codec.Envelope) core.Turn {
	run := h.turn(r, func(ctx context.Context, ent *entity.Entity[K, S]) error {
		return ent.Tell(ctx, env)
	})
	return func(ctx context.Context) error {
		err := run(ctx)
		if errors.Is(err, errRetired) {
			if err := h.Post(r.id, env); err != nil {
				h.logger.Error("repost after passivation failed", "id", h.key(r.id), "type_code", env.TypeCode, "error", err)
			}
			return nil
		}
		if err != nil {
			h.logger.ErrorContext(ctx, "posted envelope failed", "id", h.key(r.id), "type_code", env.TypeCode, "error", err)
		}
		return nil
	}
}

// acquire returns the live resident for id, spawning a new incarnation
// when none exists or the current one is retiring.
func (h *Host[K, S]) acquire(id K) (*resident[K, S], error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if r, ok := h.residents[id]; ok && !r.retired.Load() {
		return r, nil
	}

	ent, err := entity.New(id, h.behavior, h.deps,
		entity.WithLogger(h.opts.logger),
		entity.WithMetrics(h.metrics),
		entity.WithKind(h.opts.kind),
		entity.WithSnapshotInterval(h.cfg.SnapshotInterval),
		entity.WithCatchUpPageSize(h.cfg.CatchUpPageSize),
	)
	if err != nil {
		return nil, err
	}

	r := &resident[K, S]{id: id, ent: ent}
	h.gen++
	actorID := core.ActorID(h.key(id) + "#" + strconv.FormatUint(h.gen, 10))

	actor, err := h.system.Spawn(actorID, core.ActorOptions{
		MailboxSize:    h.cfg.MailboxSize,
		Name:           h.key(id),
		ProcessTimeout: h.cfg.ProcessTimeout,
		IdleTimeout:    h.cfg.IdleTimeout,
		OnIdle:         func(core.ActorID) { h.passivate(r) },
		Init:           h.turn(r, func(context.Context, *entity.Entity[K, S]) error { return nil }),
		Logger:         h.opts.logger,
	})
	switch {
	case errors.Is(err, core.ErrSystemFull):
		return nil, fmt.Errorf("%w: %d", ErrCapacity, h.cfg.MaxEntities)
	case errors.Is(err, core.ErrSystemShutdown):
		return nil, ErrClosed
	case err != nil:
		return nil, err
	}

	r.actor = actor
	h.residents[id] = r
	return r, nil
}

func (h *Host[K, S]) actorOf(r *resident[K, S]) core.Actor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return r.actor
}

func (h *Host[K, S]) passivate(r *resident[K, S]) {
	timeout := h.cfg.ProcessTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := h.retire(ctx, r, false)
	switch {
	case err == nil:
		h.logger.Debug("entity passivated", "id", h.key(r.id))
	case errors.Is(err, errBusy), errors.Is(err, errRetired), errors.Is(err, core.ErrActorStopped):
	default:
		h.logger.Warn("passivation failed", "id", h.key(r.id), "error", err)
	}
}

// retire runs the deactivation turn, then unregisters and stops the
// actor. Unless force is set, retiring is skipped when turns are queued.
func (h *Host[K, S]) retire(ctx context.Context, r *resident[K, S], force bool) error {
	actor := h.actorOf(r)

	err := actor.Call(ctx, func(ctx context.Context) error {
		if r.retired.Load() {
			return errRetired
		}
		if !force && actor.Stats().MailboxSize > 0 {
			return errBusy
		}
		if err := r.ent.Deactivate(ctx); err != nil {
			return err
		}
		r.retired.Store(true)
		return nil
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.residents[r.id] == r {
		delete(h.residents, r.id)
	}
	h.mu.Unlock()

	if err := h.system.Remove(actor); err != nil && !errors.Is(err, core.ErrActorNotFound) {
		return err
	}
	return nil
}
