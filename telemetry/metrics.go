// Package telemetry provides OpenTelemetry metrics for entities and hosts.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// InstrumentationName is the meter name used for all instruments.
const InstrumentationName = "github.com/najoast/esgo"

// Drop reasons reported on esgo.envelopes.dropped.
const (
	DropUnknownType  = "unknown_type"
	DropNullPayload  = "null_payload"
	DropNoCapability = "no_capability"
)

// Metrics records entity runtime measurements. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	eventsApplied    metric.Int64Counter
	eventsStale      metric.Int64Counter
	catchUpRuns      metric.Int64Counter
	catchUpEvents    metric.Int64Counter
	snapshots        metric.Int64Counter
	handlerFailures  metric.Int64Counter
	envelopesDropped metric.Int64Counter
	turnDuration     metric.Float64Histogram
}

// NewMetrics creates all instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.eventsApplied, "esgo.events.applied", "Events applied to entity state"},
		{&m.eventsStale, "esgo.events.stale", "Events ignored because their version was already applied"},
		{&m.catchUpRuns, "esgo.catchup.runs", "Catch-up replays started"},
		{&m.catchUpEvents, "esgo.catchup.events", "Events fetched during catch-up"},
		{&m.snapshots, "esgo.snapshots", "State snapshots persisted"},
		{&m.handlerFailures, "esgo.handler.failures", "Handler failures by path and filter outcome"},
		{&m.envelopesDropped, "esgo.envelopes.dropped", "Envelopes dropped without error"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
	}

	m.turnDuration, err = meter.Float64Histogram("esgo.turn.duration",
		metric.WithDescription("Duration of entity turns"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create histogram esgo.turn.duration: %w", err)
	}

	return m, nil
}

// NewNoopMetrics returns Metrics backed by a no-op meter.
func NewNoopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter(InstrumentationName))
	if err != nil {
		// noop instruments never fail
		panic(err)
	}
	return m
}

// EventApplied records one applied event.
func (m *Metrics) EventApplied(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.eventsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", kind)))
}

// EventStale records one ignored stale event.
func (m *Metrics) EventStale(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.eventsStale.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", kind)))
}

// CatchUpStarted records the start of a catch-up replay.
func (m *Metrics) CatchUpStarted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.catchUpRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", kind)))
}

// CatchUpFetched records events fetched by one catch-up page.
func (m *Metrics) CatchUpFetched(ctx context.Context, kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.catchUpEvents.Add(ctx, int64(n), metric.WithAttributes(attribute.String("entity", kind)))
}

// SnapshotPersisted records a snapshot write; op is "insert" or "update".
func (m *Metrics) SnapshotPersisted(ctx context.Context, kind, op string) {
	if m == nil {
		return
	}
	m.snapshots.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", kind),
		attribute.String("op", op),
	))
}

// HandlerFailed records a handler failure and whether the filter tolerated it.
func (m *Metrics) HandlerFailed(ctx context.Context, kind, path string, tolerated bool) {
	if m == nil {
		return
	}
	m.handlerFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", kind),
		attribute.String("path", path),
		attribute.Bool("tolerated", tolerated),
	))
}

// EnvelopeDropped records an envelope dropped for reason.
func (m *Metrics) EnvelopeDropped(ctx context.Context, kind, reason string) {
	if m == nil {
		return
	}
	m.envelopesDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", kind),
		attribute.String("reason", reason),
	))
}

// TurnCompleted records the duration of a host turn.
func (m *Metrics) TurnCompleted(ctx context.Context, kind string, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.turnDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("entity", kind),
		attribute.Bool("failed", failed),
	))
}
