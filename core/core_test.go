package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func noop(ctx context.Context) error { return nil }

func TestNewActor(t *testing.T) {
	opts := DefaultActorOptions()
	opts.Name = "test-actor"

	actor := NewActor("a-1", opts)

	if actor.ID() != "a-1" {
		t.Errorf("Expected actor ID a-1, got %s", actor.ID())
	}

	stats := actor.Stats()
	if stats.Name != "test-actor" {
		t.Errorf("Expected actor name 'test-actor', got '%s'", stats.Name)
	}

	if stats.State != ActorStateIdle {
		t.Errorf("Expected initial state %s, got %s", ActorStateIdle, stats.State)
	}
}

func TestActorStartStop(t *testing.T) {
	actor := NewActor("a-2", DefaultActorOptions())

	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start actor: %v", err)
	}
	if err := actor.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("Expected ErrAlreadyStarted, got %v", err)
	}

	if err := actor.Stop(); err != nil {
		t.Fatalf("Failed to stop actor: %v", err)
	}

	stats := actor.Stats()
	if stats.State != ActorStateStopped {
		t.Errorf("Expected final state %s, got %s", ActorStateStopped, stats.State)
	}

	if err := actor.Send(noop); !errors.Is(err, ErrActorStopped) {
		t.Errorf("Expected ErrActorStopped after stop, got %v", err)
	}
	if err := actor.Call(context.Background(), noop); !errors.Is(err, ErrActorStopped) {
		t.Errorf("Expected ErrActorStopped after stop, got %v", err)
	}
}

func TestActorCall(t *testing.T) {
	actor := NewActor("a-3", DefaultActorOptions())
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start actor: %v", err)
	}
	defer actor.Stop()

	want := errors.New("boom")
	err := actor.Call(context.Background(), func(ctx context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("Expected turn error, got %v", err)
	}

	ran := false
	if err := actor.Call(context.Background(), func(ctx context.Context) error { ran = true; return nil }); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !ran {
		t.Fatal("Turn did not run")
	}

	stats := actor.Stats()
	if stats.TurnsProcessed != 2 || stats.TurnsFailed != 1 {
		t.Errorf("Expected 2 processed / 1 failed, got %d / %d", stats.TurnsProcessed, stats.TurnsFailed)
	}
	if stats.LastTurnAt.IsZero() {
		t.Error("Expected LastTurnAt to be set")
	}
}

func TestActorSend(t *testing.T) {
	actor := NewActor("a-4", DefaultActorOptions())
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start actor: %v", err)
	}
	defer actor.Stop()

	done := make(chan struct{})
	if err := actor.Send(func(ctx context.Context) error { close(done); return nil }); err != nil {
		t.Fatalf("Failed to send turn: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sent turn did not run")
	}
	if err := actor.Send(nil); !errors.Is(err, ErrNilTurn) {
		t.Errorf("Expected ErrNilTurn, got %v", err)
	}
}

func TestActorTurnsNeverOverlap(t *testing.T) {
	actor := NewActor("a-5", DefaultActorOptions())
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start actor: %v", err)
	}
	defer actor.Stop()

	var inFlight, maxInFlight, total int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = actor.Call(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				if n > atomic.LoadInt32(&maxInFlight) {
					atomic.StoreInt32(&maxInFlight, n)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&total, 1)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("Expected at most 1 turn in flight, saw %d", maxInFlight)
	}
	if total != 50 {
		t.Fatalf("Expected 50 turns, got %d", total)
	}
}

func TestActorRecoversPanics(t *testing.T) {
	actor := NewActor("a-6", DefaultActorOptions())
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start actor: %v", err)
	}
	defer actor.Stop()

	err := actor.Call(context.Background(), func(ctx context.Context) error { panic("kaboom") })
	if !errors.Is(err, ErrTurnPanicked) {
		t.Fatalf("Expected ErrTurnPanicked, got %v", err)
	}
	if err := actor.Call(context.Background(), noop); err != nil {
		t.Fatalf("Actor should survive a panic, got %v", err)
	}
}

func TestActorProcessTimeout(t *testing.T) {
	opts := DefaultActorOptions()
	opts.ProcessTimeout = 20 * time.Millisecond
	actor := NewActor("a-7", opts)
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start actor: %v", err)
	}
	defer actor.Stop()

	err := actor.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestActorInitRunsFirst(t *testing.T) {
	var order []string
	opts := DefaultActorOptions()
	opts.Init = func(ctx context.Context) error {
		order = append(order, "init")
		return nil
	}
	actor := NewActor("a-8", opts)
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start actor: %v", err)
	}
	defer actor.Stop()

	if err := actor.Call(context.Background(), func(ctx context.Context) error {
		order = append(order, "call")
		return nil
	}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if len(order) != 2 || order[0] != "init" {
		t.Fatalf("Expected init before call, got %v", order)
	}
}

func TestActorIdleNotification(t *testing.T) {
	idle := make(chan ActorID, 4)
	opts := DefaultActorOptions()
	opts.IdleTimeout = 20 * time.Millisecond
	opts.OnIdle = func(id ActorID) { idle <- id }
	actor := NewActor("a-9", opts)
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start actor: %v", err)
	}
	defer actor.Stop()

	select {
	case id := <-idle:
		if id != "a-9" {
			t.Fatalf("Expected idle id a-9, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("OnIdle was not called")
	}

	// Only one notification per idle period.
	select {
	case <-idle:
		t.Fatal("OnIdle fired twice without a turn in between")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestActorStopFailsQueuedCalls(t *testing.T) {
	actor := NewActor("a-10", DefaultActorOptions())
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start actor: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = actor.Call(context.Background(), func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			<-release
			return ctx.Err()
		})
	}()
	<-started

	queued := make(chan error, 1)
	go func() {
		queued <- actor.Call(context.Background(), noop)
	}()
	time.Sleep(10 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- actor.Stop() }()
	close(release)

	if err := <-stopped; err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case err := <-queued:
		if !errors.Is(err, ErrActorStopped) {
			t.Fatalf("Expected ErrActorStopped for queued call, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Queued call never resolved")
	}
}

func TestDirectory(t *testing.T) {
	dir := NewDirectory()

	actor1 := NewActor("x", DefaultActorOptions())
	actor2 := NewActor("y", DefaultActorOptions())

	if err := dir.Register(actor1); err != nil {
		t.Fatalf("Failed to register actor1: %v", err)
	}
	if err := dir.Register(actor2); err != nil {
		t.Fatalf("Failed to register actor2: %v", err)
	}
	if err := dir.Register(actor1); !errors.Is(err, ErrActorExists) {
		t.Fatalf("Expected ErrActorExists, got %v", err)
	}

	found, exists := dir.Lookup("x")
	if !exists {
		t.Fatal("Actor x not found")
	}
	if found.ID() != "x" {
		t.Errorf("Expected actor ID x, got %s", found.ID())
	}

	if ids := dir.List(); len(ids) != 2 || dir.Len() != 2 {
		t.Errorf("Expected 2 actors, got %d (len %d)", len(ids), dir.Len())
	}

	if err := dir.Unregister("x"); err != nil {
		t.Fatalf("Failed to unregister actor: %v", err)
	}
	if _, exists := dir.Lookup("x"); exists {
		t.Error("Actor x should not exist after unregister")
	}
	if err := dir.Unregister("x"); !errors.Is(err, ErrActorNotFound) {
		t.Errorf("Expected ErrActorNotFound, got %v", err)
	}
	if dir.Len() != 1 {
		t.Errorf("Expected 1 actor, got %d", dir.Len())
	}
}

func TestSystem(t *testing.T) {
	system := NewSystem(WithMaxActors(2))

	actor, err := system.Spawn("acct-1", DefaultActorOptions())
	if err != nil {
		t.Fatalf("Failed to spawn actor: %v", err)
	}
	if _, err := system.Spawn("acct-1", DefaultActorOptions()); !errors.Is(err, ErrActorExists) {
		t.Fatalf("Expected ErrActorExists, got %v", err)
	}

	again, created, err := system.GetOrSpawn("acct-1", DefaultActorOptions())
	if err != nil || created || again != actor {
		t.Fatalf("Expected existing actor, got created=%v err=%v", created, err)
	}

	if _, created, err := system.GetOrSpawn("acct-2", DefaultActorOptions()); err != nil || !created {
		t.Fatalf("Expected new actor, got created=%v err=%v", created, err)
	}
	if _, err := system.Spawn("acct-3", DefaultActorOptions()); !errors.Is(err, ErrSystemFull) {
		t.Fatalf("Expected ErrSystemFull, got %v", err)
	}
	if _, err := system.Spawn(" ", DefaultActorOptions()); !errors.Is(err, ErrEmptyActorID) {
		t.Fatalf("Expected ErrEmptyActorID, got %v", err)
	}

	if stats := system.Stats(); len(stats) != 2 {
		t.Errorf("Expected 2 actors in stats, got %d", len(stats))
	}

	if err := system.Remove(actor); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := system.Remove(actor); !errors.Is(err, ErrActorNotFound) {
		t.Fatalf("Expected ErrActorNotFound on second remove, got %v", err)
	}
	if system.Len() != 1 {
		t.Errorf("Expected 1 live actor, got %d", system.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := system.Shutdown(ctx); err != nil {
		t.Fatalf("Failed to shutdown system: %v", err)
	}
	if system.Len() != 0 {
		t.Errorf("Expected no actors after shutdown, got %d", system.Len())
	}
	if _, err := system.Spawn("acct-4", DefaultActorOptions()); !errors.Is(err, ErrSystemShutdown) {
		t.Fatalf("Expected ErrSystemShutdown, got %v", err)
	}
}
