package entity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/najoast/esgo/codec"
	"github.com/najoast/esgo/telemetry"
)

// Deps are the collaborators an Entity is built with.
type Deps[K comparable, S State[K]] struct {
	Decoder *codec.Decoder
	Events  EventStorage[K]
	States  StateStorage[K, S]
}

// Option configures an Entity.
type Option func(*options)

type options struct {
	logger           *slog.Logger
	metrics          *telemetry.Metrics
	snapshotInterval uint64
	pageSize         int
	kind             string
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithSnapshotInterval sets how many versions pass between snapshots.
func WithSnapshotInterval(every uint64) Option {
	return func(o *options) {
		o.snapshotInterval = every
	}
}

// WithCatchUpPageSize sets the number of events fetched per catch-up page.
func WithCatchUpPageSize(size int) Option {
	return func(o *options) {
		o.pageSize = size
	}
}

// WithKind names the entity type in logs and metrics.
func WithKind(kind string) Option {
	return func(o *options) {
		o.kind = kind
	}
}

// Entity is a single event-sourced state machine.
type Entity[K comparable, S State[K]] struct {
	id       K
	behavior Behavior[K, S]
	decoder  *codec.Decoder
	events   EventStorage[K]
	states   StateStorage[K, S]
	outside  map[string]struct{}

	state     S
	isNew     bool
	activated bool

	opts    options
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// New creates an inactive Entity for id. Call Activate before Tell.
func New[K comparable, S State[K]](id K, behavior Behavior[K, S], deps Deps[K, S], opts ...Option) (*Entity[K, S], error) {
	if behavior == nil {
		return nil, ErrBehaviorRequired
	}
	if deps.Decoder == nil {
		return nil, ErrDecoderRequired
	}
	if deps.Events == nil {
		return nil, ErrEventStoreRequired
	}
	if deps.States == nil {
		return nil, ErrStateStoreRequired
	}

	o := options{
		snapshotInterval: DefaultSnapshotInterval,
		pageSize:         DefaultCatchUpPageSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.pageSize <= 0 {
		return nil, ErrInvalidPageSize
	}
	if o.snapshotInterval == 0 {
		return nil, ErrInvalidSnapshotEvery
	}
	if o.kind == "" {
		o.kind = strings.TrimPrefix(fmt.Sprintf("%T", behavior), "*")
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	e := &Entity[K, S]{
		id:       id,
		behavior: behavior,
		decoder:  deps.Decoder,
		events:   deps.Events,
		states:   deps.States,
		outside:  make(map[string]struct{}),
		opts:     o,
		logger:   o.logger.With("component", "entity", "entity", o.kind, "id", fmt.Sprint(id)),
		metrics:  o.metrics,
	}
	for _, code := range behavior.OutsideTypeCodes() {
		e.DeclareOutside(code)
	}
	return e, nil
}

// DeclareOutside routes typeCode to the direct message path.
func (e *Entity[K, S]) DeclareOutside(typeCode string) {
	e.outside[typeCode] = struct{}{}
}

// IsOutside reports whether typeCode is routed as a direct message.
func (e *Entity[K, S]) IsOutside(typeCode string) bool {
	_, ok := e.outside[typeCode]
	return ok
}

// ID returns the entity identity.
func (e *Entity[K, S]) ID() K {
	return e.id
}

// Kind returns the entity type name used in logs and metrics.
func (e *Entity[K, S]) Kind() string {
	return e.opts.kind
}

// State returns the current state. Only read it from within a turn.
func (e *Entity[K, S]) State() S {
	return e.state
}

// Version returns the version of the last applied event.
func (e *Entity[K, S]) Version() uint64 {
	if !e.activated {
		return 0
	}
	return e.state.Base().Version
}

// VersionTime returns the timestamp of the last applied event.
func (e *Entity[K, S]) VersionTime() time.Time {
	if !e.activated {
		return time.Time{}
	}
	return e.state.Base().VersionTime
}

// IsNew reports whether the state has never been persisted.
func (e *Entity[K, S]) IsNew() bool {
	return e.isNew
}

// Activated reports whether Activate has completed.
func (e *Entity[K, S]) Activated() bool {
	return e.activated
}

// Activate loads the state from the state store, or initializes a fresh
// one when none exists.
func (e *Entity[K, S]) Activate(ctx context.Context) error {
	if e.activated {
		return nil
	}

	state, found, err := e.states.GetByID(ctx, e.id)
	if err != nil {
		return fmt.Errorf("%w: %v: %w", ErrStateLoad, e.id, err)
	}
	if !found {
		state = e.behavior.NewState(e.id)
		state.Base().StateID = e.id
		e.isNew = true
	}

	e.state = state
	e.activated = true
	e.logger.DebugContext(ctx, "entity activated",
		"version", state.Base().Version,
		"is_new", e.isNew,
	)
	return nil
}

// Deactivate runs the optional Deactivator hook and marks the entity
// inactive. A later Activate reloads the state from the store.
func (e *Entity[K, S]) Deactivate(ctx context.Context) error {
	if !e.activated {
		return nil
	}
	if d, ok := any(e.behavior).(Deactivator[K, S]); ok {
		if err := d.OnDeactivate(ctx, e.state); err != nil {
			return fmt.Errorf("deactivate %v: %w", e.id, err)
		}
	}
	e.activated = false
	e.logger.DebugContext(ctx, "entity deactivated", "version", e.state.Base().Version)
	return nil
}

// Tell dispatches one envelope: decode, route, then apply or execute.
//
// Unknown type codes, null payloads and payloads matching no capability are
// dropped without error.
func (e *Entity[K, S]) Tell(ctx context.Context, env codec.Envelope) error {
	if !e.activated {
		return ErrNotActivated
	}

	payload, ok, err := e.decoder.Decode(env)
	if err != nil {
		return err
	}
	if !ok {
		reason := telemetry.DropNullPayload
		if _, known := e.decoder.Registry().Resolve(env.TypeCode); !known {
			reason = telemetry.DropUnknownType
		}
		e.drop(ctx, env.TypeCode, reason)
		return nil
	}

	return e.route(ctx, env.TypeCode, payload)
}

// route picks the message or event path. Outside declarations win over
// capability inspection.
func (e *Entity[K, S]) route(ctx context.Context, typeCode string, payload any) error {
	if e.IsOutside(typeCode) {
		if msg, ok := payload.(Message); ok {
			return e.runMessage(ctx, typeCode, msg)
		}
		e.drop(ctx, typeCode, telemetry.DropNoCapability)
		return nil
	}

	if evt, ok := payload.(Event); ok {
		return e.processEvent(ctx, typeCode, evt)
	}
	e.drop(ctx, typeCode, telemetry.DropNoCapability)
	return nil
}

func (e *Entity[K, S]) drop(ctx context.Context, typeCode, reason string) {
	e.metrics.EnvelopeDropped(ctx, e.opts.kind, reason)
	e.logger.DebugContext(ctx, "envelope dropped", "type_code", typeCode, "reason", reason)
}
