package entity

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/najoast/esgo/codec"
)

var (
	errInsufficient = errors.New("insufficient")
	errBoom         = errors.New("boom")
)

type counterState struct {
	StateBase[string]
	Sum     int
	Applied []uint64
	Notes   []string
}

type added struct {
	EventBase
	Amount int    `json:"amount"`
	Fail   string `json:"fail,omitempty"`
}

type note struct {
	MessageBase
	Text string `json:"text"`
	Fail string `json:"fail,omitempty"`
}

// dual satisfies both capabilities.
type dual struct {
	EventBase
	MessageBase
	Text string `json:"text"`
}

type plain struct {
	X int `json:"x"`
}

type counterBehavior struct {
	tolerateEvents   bool
	tolerateMessages bool
	eventCalls       int
	messageCalls     int
	outside          []string
	block            chan struct{}
}

func (b *counterBehavior) NewState(id string) *counterState {
	return &counterState{}
}

func (b *counterBehavior) OutsideTypeCodes() []string {
	return b.outside
}

func (b *counterBehavior) ApplyEvent(ctx context.Context, s *counterState, evt Event) error {
	b.eventCalls++
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	switch e := evt.(type) {
	case *added:
		switch e.Fail {
		case "insufficient":
			return errInsufficient
		case "boom":
			return errBoom
		case "panic":
			panic("handler exploded")
		case "cancel":
			return context.Canceled
		}
		s.Sum += e.Amount
	case *dual:
		s.Notes = append(s.Notes, "event:"+e.Text)
	}
	s.Applied = append(s.Applied, evt.EventVersion())
	return nil
}

func (b *counterBehavior) HandleMessage(ctx context.Context, s *counterState, msg Message) error {
	b.messageCalls++
	switch m := msg.(type) {
	case *note:
		if m.Fail != "" {
			return errBoom
		}
		s.Notes = append(s.Notes, m.Text)
	case *dual:
		s.Notes = append(s.Notes, "message:"+m.Text)
	}
	return nil
}

func (b *counterBehavior) IsEventFailureTolerable(err error) bool {
	return b.tolerateEvents && errors.Is(err, errInsufficient)
}

func (b *counterBehavior) IsMessageFailureTolerable(err error) bool {
	return b.tolerateMessages
}

type getListCall struct {
	afterVersion uint64
	limit        int
	afterTime    time.Time
}

type fakeEventStore struct {
	events map[uint64]Event
	calls  []getListCall
	err    error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: make(map[uint64]Event)}
}

func (f *fakeEventStore) add(evts ...Event) {
	for _, evt := range evts {
		f.events[evt.EventVersion()] = evt
	}
}

func (f *fakeEventStore) GetList(ctx context.Context, id string, afterVersion uint64, limit int, afterTime time.Time) ([]EventRecord, error) {
	f.calls = append(f.calls, getListCall{afterVersion: afterVersion, limit: limit, afterTime: afterTime})
	if f.err != nil {
		return nil, f.err
	}
	versions := make([]uint64, 0, len(f.events))
	for v := range f.events {
		if v > afterVersion {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	if len(versions) > limit {
		versions = versions[:limit]
	}
	records := make([]EventRecord, 0, len(versions))
	for _, v := range versions {
		records = append(records, EventRecord{Event: f.events[v], TypeCode: "added"})
	}
	return records, nil
}

type fakeStateStore struct {
	stored    *counterState
	inserts   []uint64
	updates   []uint64
	getErr    error
	insertErr error
	panicOn   string
}

func (f *fakeStateStore) GetByID(ctx context.Context, id string) (*counterState, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	if f.stored == nil {
		return nil, false, nil
	}
	cp := *f.stored
	return &cp, true, nil
}

func (f *fakeStateStore) Insert(ctx context.Context, s *counterState) error {
	if f.panicOn == "insert" {
		panic("store exploded")
	}
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserts = append(f.inserts, s.Version)
	cp := *s
	f.stored = &cp
	return nil
}

func (f *fakeStateStore) Update(ctx context.Context, s *counterState) error {
	f.updates = append(f.updates, s.Version)
	cp := *s
	f.stored = &cp
	return nil
}

type fixture struct {
	entity   *Entity[string, *counterState]
	behavior *counterBehavior
	events   *fakeEventStore
	states   *fakeStateStore
}

func newRegistry() *codec.Registry {
	r := codec.NewRegistry()
	r.MustRegister("added", func() any { return new(added) })
	r.MustRegister("note", func() any { return new(note) })
	r.MustRegister("dual", func() any { return new(dual) })
	r.MustRegister("plain", func() any { return new(plain) })
	return r
}

func newFixture(t *testing.T, behavior *counterBehavior, opts ...Option) *fixture {
	t.Helper()
	if behavior == nil {
		behavior = &counterBehavior{}
	}
	decoder, err := codec.NewDecoder(newRegistry(), codec.JSON{})
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	f := &fixture{
		behavior: behavior,
		events:   newFakeEventStore(),
		states:   &fakeStateStore{},
	}
	f.entity, err = New[string, *counterState]("acct-1", behavior, Deps[string, *counterState]{
		Decoder: decoder,
		Events:  f.events,
		States:  f.states,
	}, opts...)
	if err != nil {
		t.Fatalf("new entity: %v", err)
	}
	return f
}

// activateAt activates the fixture with a stored state at version v.
func (f *fixture) activateAt(t *testing.T, v uint64) {
	t.Helper()
	if v > 0 {
		f.states.stored = &counterState{StateBase: StateBase[string]{StateID: "acct-1", Version: v, VersionTime: ts(v)}}
	}
	if err := f.entity.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
}

func ts(v uint64) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(v) * time.Second)
}

func addedAt(v uint64, amount int) *added {
	return &added{EventBase: EventBase{Version: v, Timestamp: ts(v)}, Amount: amount}
}

func seal(t *testing.T, typeCode string, v any) codec.Envelope {
	t.Helper()
	env, err := codec.Seal(codec.JSON{}, typeCode, v)
	if err != nil {
		t.Fatalf("seal %s: %v", typeCode, err)
	}
	return env
}
