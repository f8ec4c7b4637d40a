package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/najoast/esgo/config"
)

// Provider owns the meter provider and the Metrics built on it.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	metrics       *Metrics
	logger        *slog.Logger
}

// Setup builds a Provider from cfg. When telemetry is disabled the
// provider is backed by a no-op meter.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telemetry")

	if !cfg.Enabled {
		logger.DebugContext(ctx, "telemetry disabled")
		return newProvider(nil, noop.NewMeterProvider().Meter(InstrumentationName), logger)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	reader := sdkmetric.NewPeriodicReader(exporter, readerOpts...)

	p, err := NewProviderWithReader(reader, cfg.ServiceName, logger)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "telemetry initialized",
		"endpoint", cfg.OTLPEndpoint,
		"interval", cfg.Interval,
		"insecure", cfg.Insecure,
	)
	return p, nil
}

// NewProviderWithReader builds a Provider exporting through reader.
func NewProviderWithReader(reader sdkmetric.Reader, serviceName string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default().With("component", "telemetry")
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	return newProvider(mp, mp.Meter(InstrumentationName), logger)
}

func newProvider(mp *sdkmetric.MeterProvider, meter metric.Meter, logger *slog.Logger) (*Provider, error) {
	metrics, err := NewMetrics(meter)
	if err != nil {
		return nil, err
	}
	return &Provider{
		meterProvider: mp,
		meter:         meter,
		metrics:       metrics,
		logger:        logger,
	}, nil
}

// Meter returns the meter instruments are created on.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Metrics returns the entity runtime instruments.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Name implements bootstrap.Service.
func (p *Provider) Name() string {
	return "telemetry"
}

// Start implements bootstrap.Service. Instruments are live from Setup on.
func (p *Provider) Start(ctx context.Context) error {
	return nil
}

// Stop flushes and shuts down the meter provider.
func (p *Provider) Stop(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}
