package entity

import (
	"context"
	"errors"
	"testing"

	"github.com/najoast/esgo/codec"
)

func TestNewValidatesDeps(t *testing.T) {
	decoder, err := codec.NewDecoder(newRegistry(), codec.JSON{})
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	events := newFakeEventStore()
	states := &fakeStateStore{}

	tests := []struct {
		name     string
		behavior Behavior[string, *counterState]
		deps     Deps[string, *counterState]
		opts     []Option
		want     error
	}{
		{"no behavior", nil, Deps[string, *counterState]{Decoder: decoder, Events: events, States: states}, nil, ErrBehaviorRequired},
		{"no decoder", &counterBehavior{}, Deps[string, *counterState]{Events: events, States: states}, nil, ErrDecoderRequired},
		{"no events", &counterBehavior{}, Deps[string, *counterState]{Decoder: decoder, States: states}, nil, ErrEventStoreRequired},
		{"no states", &counterBehavior{}, Deps[string, *counterState]{Decoder: decoder, Events: events}, nil, ErrStateStoreRequired},
		{"bad page", &counterBehavior{}, Deps[string, *counterState]{Decoder: decoder, Events: events, States: states}, []Option{WithCatchUpPageSize(0)}, ErrInvalidPageSize},
		{"bad interval", &counterBehavior{}, Deps[string, *counterState]{Decoder: decoder, Events: events, States: states}, []Option{WithSnapshotInterval(0)}, ErrInvalidSnapshotEvery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New[string, *counterState]("acct-1", tt.behavior, tt.deps, tt.opts...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestTellRequiresActivation(t *testing.T) {
	f := newFixture(t, nil)

	err := f.entity.Tell(context.Background(), seal(t, "added", addedAt(1, 10)))
	if !errors.Is(err, ErrNotActivated) {
		t.Fatalf("expected ErrNotActivated, got %v", err)
	}
}

func TestActivateFreshState(t *testing.T) {
	f := newFixture(t, nil)
	f.activateAt(t, 0)

	if !f.entity.IsNew() {
		t.Fatal("expected fresh entity to be new")
	}
	if f.entity.State().StateID != "acct-1" {
		t.Fatalf("expected state id acct-1, got %q", f.entity.State().StateID)
	}
	if f.entity.Version() != 0 {
		t.Fatalf("expected version 0, got %d", f.entity.Version())
	}
	if !f.entity.VersionTime().IsZero() {
		t.Fatalf("expected zero version time, got %v", f.entity.VersionTime())
	}
}

func TestActivateLoadError(t *testing.T) {
	f := newFixture(t, nil)
	f.states.getErr = errBoom

	err := f.entity.Activate(context.Background())
	if !errors.Is(err, ErrStateLoad) || !errors.Is(err, errBoom) {
		t.Fatalf("expected ErrStateLoad wrapping boom, got %v", err)
	}
	if f.entity.Activated() {
		t.Fatal("entity should stay inactive")
	}
}

func TestFirstEventAdvancesWithoutSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.activateAt(t, 0)

	if err := f.entity.Tell(context.Background(), seal(t, "added", addedAt(1, 10))); err != nil {
		t.Fatalf("tell: %v", err)
	}

	if f.entity.Version() != 1 {
		t.Fatalf("expected version 1, got %d", f.entity.Version())
	}
	if !f.entity.VersionTime().Equal(ts(1)) {
		t.Fatalf("expected version time %v, got %v", ts(1), f.entity.VersionTime())
	}
	if f.entity.State().Sum != 10 {
		t.Fatalf("expected sum 10, got %d", f.entity.State().Sum)
	}
	if len(f.states.inserts)+len(f.states.updates) != 0 {
		t.Fatalf("expected no snapshot, got inserts=%v updates=%v", f.states.inserts, f.states.updates)
	}
}

func TestSnapshotAtHundred(t *testing.T) {
	f := newFixture(t, nil)
	f.activateAt(t, 99)

	if err := f.entity.Tell(context.Background(), seal(t, "added", addedAt(100, 1))); err != nil {
		t.Fatalf("tell: %v", err)
	}

	if f.entity.Version() != 100 {
		t.Fatalf("expected version 100, got %d", f.entity.Version())
	}
	if len(f.states.updates) != 1 || f.states.updates[0] != 100 {
		t.Fatalf("expected one update at v100, got %v", f.states.updates)
	}
	if len(f.states.inserts) != 0 {
		t.Fatalf("loaded state must not be inserted, got %v", f.states.inserts)
	}
}

func TestSnapshotInsertThenUpdate(t *testing.T) {
	f := newFixture(t, nil, WithSnapshotInterval(2))
	f.activateAt(t, 0)

	ctx := context.Background()
	for v := uint64(1); v <= 4; v++ {
		if err := f.entity.Tell(ctx, seal(t, "added", addedAt(v, 1))); err != nil {
			t.Fatalf("tell v%d: %v", v, err)
		}
	}

	if len(f.states.inserts) != 1 || f.states.inserts[0] != 2 {
		t.Fatalf("expected insert at v2, got %v", f.states.inserts)
	}
	if len(f.states.updates) != 1 || f.states.updates[0] != 4 {
		t.Fatalf("expected update at v4, got %v", f.states.updates)
	}
	if f.entity.IsNew() {
		t.Fatal("entity should not be new after insert")
	}
}

func TestSnapshotFailureKeepsVersion(t *testing.T) {
	f := newFixture(t, nil, WithSnapshotInterval(1))
	f.activateAt(t, 0)
	f.states.insertErr = errBoom

	err := f.entity.Tell(context.Background(), seal(t, "added", addedAt(1, 5)))
	if !errors.Is(err, ErrSnapshotPersist) {
		t.Fatalf("expected ErrSnapshotPersist, got %v", err)
	}
	if f.entity.Version() != 1 {
		t.Fatalf("expected version 1 after failed persist, got %d", f.entity.Version())
	}
	if !f.entity.IsNew() {
		t.Fatal("entity should stay new until an insert succeeds")
	}
}

func TestStaleEventIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.activateAt(t, 5)

	if err := f.entity.Tell(context.Background(), seal(t, "added", addedAt(3, 10))); err != nil {
		t.Fatalf("tell: %v", err)
	}

	if f.entity.Version() != 5 {
		t.Fatalf("expected version 5, got %d", f.entity.Version())
	}
	if f.behavior.eventCalls != 0 {
		t.Fatalf("handler must not run for stale event, ran %d times", f.behavior.eventCalls)
	}
}

func TestCatchUpSinglePage(t *testing.T) {
	f := newFixture(t, nil)
	f.activateAt(t, 5)
	for v := uint64(1); v <= 10; v++ {
		f.events.add(addedAt(v, 1))
	}

	if err := f.entity.Tell(context.Background(), seal(t, "added", addedAt(10, 1))); err != nil {
		t.Fatalf("tell: %v", err)
	}

	if f.entity.Version() != 10 {
		t.Fatalf("expected version 10, got %d", f.entity.Version())
	}
	want := []uint64{6, 7, 8, 9, 10}
	got := f.entity.State().Applied
	if len(got) != len(want) {
		t.Fatalf("expected applied %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected applied %v, got %v", want, got)
		}
	}
	if len(f.events.calls) != 1 {
		t.Fatalf("expected one page fetch, got %d", len(f.events.calls))
	}
	call := f.events.calls[0]
	if call.afterVersion != 5 || call.limit != DefaultCatchUpPageSize || !call.afterTime.Equal(ts(5)) {
		t.Fatalf("unexpected fetch %+v", call)
	}
}

func TestCatchUpMultiplePages(t *testing.T) {
	f := newFixture(t, nil, WithCatchUpPageSize(2))
	f.activateAt(t, 0)
	for v := uint64(1); v <= 5; v++ {
		f.events.add(addedAt(v, 1))
	}

	if err := f.entity.Tell(context.Background(), seal(t, "added", addedAt(5, 1))); err != nil {
		t.Fatalf("tell: %v", err)
	}

	if f.entity.Version() != 5 {
		t.Fatalf("expected version 5, got %d", f.entity.Version())
	}
	if len(f.events.calls) != 3 {
		t.Fatalf("expected three page fetches, got %d", len(f.events.calls))
	}
}

func TestCatchUpAppliesTriggerWhenLogLags(t *testing.T) {
	f := newFixture(t, nil)
	f.activateAt(t, 0)
	// v3 is in flight and not yet readable from the log.
	f.events.add(addedAt(1, 1), addedAt(2, 1))
	if err := f.entity.Tell(context.Background(), seal(t, "added", addedAt(3, 1))); err != nil {
		t.Fatalf("tell: %v", err)
	}

	if f.entity.Version() != 3 {
		t.Fatalf("expected version 3, got %d", f.entity.Version())
	}
}

func TestCatchUpGap(t *testing.T) {
	f := newFixture(t, nil)
	f.activateAt(t, 0)
	f.events.add(addedAt(1, 1), addedAt(3, 1))

	err := f.entity.Tell(context.Background(), seal(t, "added", addedAt(4, 1)))
	if !errors.Is(err, ErrVersionGap) {
		t.Fatalf("expected ErrVersionGap, got %v", err)
	}
	if f.entity.Version() != 1 {
		t.Fatalf("expected version 1, got %d", f.entity.Version())
	}
}

func TestCatchUpStalled(t *testing.T) {
	f := newFixture(t, nil)
	f.activateAt(t, 0)

	err := f.entity.Tell(context.Background(), seal(t, "added", addedAt(4, 1)))
	if !errors.Is(err, ErrCatchUpStalled) {
		t.Fatalf("expected ErrCatchUpStalled, got %v", err)
	}
	if f.entity.Version() != 0 {
		t.Fatalf("expected version 0, got %d", f.entity.Version())
	}
}

func TestCatchUpFetchError(t *testing.T) {
	f := newFixture(t, nil)
	f.activateAt(t, 0)
	f.events.err = errBoom

	err := f.entity.Tell(context.Background(), seal(t, "added", addedAt(3, 1)))
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestOutsideDualPurposeRoutedAsMessage(t *testing.T) {
	f := newFixture(t, &counterBehavior{outside: []string{"dual"}})
	f.activateAt(t, 0)

	d := &dual{EventBase: EventBase{Version: 1, Timestamp: ts(1)}, Text: "hi"}
	if err := f.entity.Tell(context.Background(), seal(t, "dual", d)); err != nil {
		t.Fatalf("tell: %v", err)
	}

	if f.entity.Version() != 0 {
		t.Fatalf("message path must not move version, got %d", f.entity.Version())
	}
	notes := f.entity.State().Notes
	if len(notes) != 1 || notes[0] != "message:hi" {
		t.Fatalf("expected message handler note, got %v", notes)
	}
	if f.behavior.eventCalls != 0 {
		t.Fatalf("event handler ran %d times", f.behavior.eventCalls)
	}
}

func TestUndeclaredDualPurposeRoutedAsEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.activateAt(t, 0)

	d := &dual{EventBase: EventBase{Version: 1, Timestamp: ts(1)}, Text: "hi"}
	if err := f.entity.Tell(context.Background(), seal(t, "dual", d)); err != nil {
		t.Fatalf("tell: %v", err)
	}

	if f.entity.Version() != 1 {
		t.Fatalf("expected version 1, got %d", f.entity.Version())
	}
	if f.behavior.messageCalls != 0 {
		t.Fatalf("message handler ran %d times", f.behavior.messageCalls)
	}
}

func TestDeclareOutsideAtRuntime(t *testing.T) {
	f := newFixture(t, nil)
	f.activateAt(t, 0)

	if f.entity.IsOutside("dual") {
		t.Fatal("dual should not start outside")
	}
	f.entity.DeclareOutside("dual")
	if !f.entity.IsOutside("dual") {
		t.Fatal("dual should be outside after declaring it")
	}

	d := &dual{EventBase: EventBase{Version: 1, Timestamp: ts(1)}, Text: "late"}
	if err := f.entity.Tell(context.Background(), seal(t, "dual", d)); err != nil {
		t.Fatalf("tell: %v", err)
	}
	if f.entity.Version() != 0 || f.behavior.eventCalls != 0 {
		t.Fatalf("expected message path, version %d event calls %d", f.entity.Version(), f.behavior.eventCalls)
	}
}

func TestMessageNeverSnapshots(t *testing.T) {
	f := newFixture(t, &counterBehavior{outside: []string{"note"}}, WithSnapshotInterval(1))
	f.activateAt(t, 0)

	if err := f.entity.Tell(context.Background(), seal(t, "note", &note{Text: "x"})); err != nil {
		t.Fatalf("tell: %v", err)
	}
	if len(f.states.inserts)+len(f.states.updates) != 0 {
		t.Fatal("message turn must not persist a snapshot")
	}
}

func TestDrops(t *testing.T) {
	tests := []struct {
		name string
		env  func(t *testing.T) codec.Envelope
	}{
		{"unknown type code", func(t *testing.T) codec.Envelope {
			return codec.Envelope{TypeCode: "missing", BinaryBytes: []byte(`{}`)}
		}},
		{"null payload", func(t *testing.T) codec.Envelope {
			return codec.Envelope{TypeCode: "added", BinaryBytes: []byte(`null`)}
		}},
		{"no capability", func(t *testing.T) codec.Envelope {
			return seal(t, "plain", &plain{X: 1})
		}},
		{"undeclared message", func(t *testing.T) codec.Envelope {
			return seal(t, "note", &note{Text: "x"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.activateAt(t, 0)

			if err := f.entity.Tell(context.Background(), tt.env(t)); err != nil {
				t.Fatalf("expected silent drop, got %v", err)
			}
			if f.behavior.eventCalls+f.behavior.messageCalls != 0 {
				t.Fatal("no handler should run")
			}
			if f.entity.Version() != 0 {
				t.Fatalf("expected version 0, got %d", f.entity.Version())
			}
		})
	}
}

func TestDecodeFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.activateAt(t, 0)

	err := f.entity.Tell(context.Background(), codec.Envelope{TypeCode: "added", BinaryBytes: []byte(`{broken`)})
	if !errors.Is(err, codec.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

type deactivatingBehavior struct {
	counterBehavior
	seen uint64
}

func (b *deactivatingBehavior) OnDeactivate(ctx context.Context, s *counterState) error {
	b.seen = s.Version
	return nil
}

func TestDeactivateRunsHook(t *testing.T) {
	decoder, err := codec.NewDecoder(newRegistry(), codec.JSON{})
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	behavior := &deactivatingBehavior{}
	states := &fakeStateStore{stored: &counterState{StateBase: StateBase[string]{StateID: "acct-1", Version: 7}}}
	e, err := New[string, *counterState]("acct-1", behavior, Deps[string, *counterState]{
		Decoder: decoder,
		Events:  newFakeEventStore(),
		States:  states,
	})
	if err != nil {
		t.Fatalf("new entity: %v", err)
	}

	ctx := context.Background()
	if err := e.Activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := e.Deactivate(ctx); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if behavior.seen != 7 {
		t.Fatalf("expected hook to see v7, got %d", behavior.seen)
	}
	if e.Activated() {
		t.Fatal("entity should be inactive")
	}
	if err := e.Tell(ctx, seal(t, "added", addedAt(8, 1))); !errors.Is(err, ErrNotActivated) {
		t.Fatalf("expected ErrNotActivated, got %v", err)
	}
}
