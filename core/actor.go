package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// actor implements the Actor interface.
type actor struct {
	id   ActorID
	name string

	// Channel for receiving turns
	mailbox chan envelope

	// Context for controlling the Actor lifecycle
	ctx    context.Context
	cancel context.CancelFunc

	// Wait group for graceful shutdown
	wg sync.WaitGroup

	started atomic.Bool

	// Atomic counters for statistics
	state          int32 // ActorState
	turnsProcessed uint64
	turnsFailed    uint64
	createdAt      time.Time
	lastTurnAt     int64 // Unix nanoseconds

	opts   ActorOptions
	logger *slog.Logger
}

// NewActor creates a new Actor instance. Start must be called before turns
// are executed.
func NewActor(id ActorID, opts ActorOptions) Actor {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = DefaultActorOptions().MailboxSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &actor{
		id:        id,
		name:      opts.Name,
		mailbox:   make(chan envelope, opts.MailboxSize),
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
		opts:      opts,
		logger:    logger.With("component", "actor", "actor", string(id)),
	}

	// Set initial state
	atomic.StoreInt32(&a.state, int32(ActorStateIdle))

	return a
}

// ID returns the unique identifier of this Actor.
func (a *actor) ID() ActorID {
	return a.id
}

// Start begins the Actor's turn loop. Init, when configured, is queued
// before Start returns.
func (a *actor) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, a.id)
	}
	if a.isStopping() {
		return fmt.Errorf("%w: %s", ErrActorStopped, a.id)
	}

	if a.opts.Init != nil {
		select {
		case a.mailbox <- envelope{ctx: a.ctx, turn: a.opts.Init}:
		default:
			return fmt.Errorf("%w: %s", ErrMailboxFull, a.id)
		}
	}

	a.wg.Add(1)
	go a.loop()

	return nil
}

// Stop gracefully shuts down the Actor. The turn in progress sees its
// context canceled; queued calls fail with ErrActorStopped.
func (a *actor) Stop() error {
	if !atomic.CompareAndSwapInt32(&a.state, int32(ActorStateIdle), int32(ActorStateStopping)) &&
		!atomic.CompareAndSwapInt32(&a.state, int32(ActorStateRunning), int32(ActorStateStopping)) {
		return fmt.Errorf("actor %s cannot be stopped from state %s",
			a.id, ActorState(atomic.LoadInt32(&a.state)))
	}

	// Cancel context to signal shutdown
	a.cancel()

	// Wait for the loop to finish
	a.wg.Wait()
	a.drainMailbox()

	atomic.StoreInt32(&a.state, int32(ActorStateStopped))

	return nil
}

// Send queues turn without waiting for it. Failures are logged.
func (a *actor) Send(turn Turn) error {
	if turn == nil {
		return ErrNilTurn
	}
	return a.enqueue(envelope{ctx: a.ctx, turn: turn})
}

// Call queues turn and waits for its outcome. The turn runs with ctx,
// bounded by ProcessTimeout and canceled when the Actor stops.
func (a *actor) Call(ctx context.Context, turn Turn) error {
	if turn == nil {
		return ErrNilTurn
	}
	reply := make(chan error, 1)
	env := envelope{ctx: ctx, turn: turn, reply: reply}

	if a.isStopping() {
		return fmt.Errorf("%w: %s", ErrActorStopped, a.id)
	}
	select {
	case a.mailbox <- env:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return fmt.Errorf("%w: %s", ErrActorStopped, a.id)
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		// The turn may have completed just before shutdown.
		select {
		case err := <-reply:
			return err
		default:
			return fmt.Errorf("%w: %s", ErrActorStopped, a.id)
		}
	}
}

func (a *actor) enqueue(env envelope) error {
	if a.isStopping() {
		return fmt.Errorf("%w: %s", ErrActorStopped, a.id)
	}
	select {
	case a.mailbox <- env:
		return nil
	case <-a.ctx.Done():
		return fmt.Errorf("%w: %s", ErrActorStopped, a.id)
	default:
		return fmt.Errorf("%w: %s", ErrMailboxFull, a.id)
	}
}

// Stats returns current runtime statistics for this Actor.
func (a *actor) Stats() ActorStats {
	var lastTurnAt time.Time
	if last := atomic.LoadInt64(&a.lastTurnAt); last > 0 {
		lastTurnAt = time.Unix(0, last)
	}

	return ActorStats{
		ID:             a.id,
		Name:           a.name,
		State:          ActorState(atomic.LoadInt32(&a.state)),
		TurnsProcessed: atomic.LoadUint64(&a.turnsProcessed),
		TurnsFailed:    atomic.LoadUint64(&a.turnsFailed),
		MailboxSize:    len(a.mailbox),
		CreatedAt:      a.createdAt,
		LastTurnAt:     lastTurnAt,
	}
}

func (a *actor) isStopping() bool {
	s := ActorState(atomic.LoadInt32(&a.state))
	return s == ActorStateStopping || s == ActorStateStopped
}

// loop is the main processing loop for the Actor.
func (a *actor) loop() {
	defer a.wg.Done()

	var (
		idle   *time.Timer
		idleCh <-chan time.Time
	)
	if a.opts.IdleTimeout > 0 && a.opts.OnIdle != nil {
		idle = time.NewTimer(a.opts.IdleTimeout)
		defer idle.Stop()
		idleCh = idle.C
	}

	for {
		// Stopping wins over queued turns.
		if a.ctx.Err() != nil {
			return
		}

		select {
		case env := <-a.mailbox:
			a.process(env)
			if idle != nil {
				idle.Reset(a.opts.IdleTimeout)
				idleCh = idle.C
			}

		case <-idleCh:
			// Fire once per idle period; the next turn re-arms the timer.
			idleCh = nil
			if len(a.mailbox) == 0 {
				go a.opts.OnIdle(a.id)
			}

		case <-a.ctx.Done():
			return
		}
	}
}

// process executes a single turn.
func (a *actor) process(env envelope) {
	atomic.CompareAndSwapInt32(&a.state, int32(ActorStateIdle), int32(ActorStateRunning))
	defer atomic.CompareAndSwapInt32(&a.state, int32(ActorStateRunning), int32(ActorStateIdle))

	atomic.AddUint64(&a.turnsProcessed, 1)
	atomic.StoreInt64(&a.lastTurnAt, time.Now().UnixNano())

	ctx := env.ctx
	if ctx == nil {
		ctx = a.ctx
	}
	var cancel context.CancelFunc
	if a.opts.ProcessTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, a.opts.ProcessTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	err := runTurn(ctx, env.turn)
	if err != nil {
		atomic.AddUint64(&a.turnsFailed, 1)
	}

	if env.reply != nil {
		env.reply <- err
		return
	}
	if err != nil {
		a.logger.WarnContext(ctx, "turn failed", "error", err)
	}
}

// runTurn converts a panic in turn into an error.
func runTurn(ctx context.Context, turn Turn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTurnPanicked, r)
		}
	}()
	return turn(ctx)
}

// drainMailbox fails calls still queued after the loop exits.
func (a *actor) drainMailbox() {
	for {
		select {
		case env := <-a.mailbox:
			if env.reply != nil {
				env.reply <- fmt.Errorf("%w: %s", ErrActorStopped, a.id)
			} else {
				a.logger.Warn("queued turn discarded on stop")
			}
		default:
			return
		}
	}
}
