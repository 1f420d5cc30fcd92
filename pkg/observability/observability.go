// Package observability provides OpenTelemetry tracing and RED metrics
// (rate, errors, duration) for the pipeline and the HTTP API.
//
// A disabled provider is fully usable: spans and instruments come from the
// global no-op providers.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "munin"

// Config configures the OpenTelemetry providers.
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"`
	ServiceVersion string        `mapstructure:"service_version"`
	Environment    string        `mapstructure:"environment"`
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"` // host:port of the gRPC collector
	SampleRate     float64       `mapstructure:"sample_rate"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	Insecure       bool          `mapstructure:"insecure"`
}

// DefaultConfig returns defaults. Telemetry is off until a collector is
// configured.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "munin",
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter
	verdictCounter   metric.Int64Counter
}

// New creates a provider. When telemetry is disabled nothing is exported.
func New(ctx context.Context, config Config) (*Provider, error) {
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if config.Enabled {
		if err := p.export(ctx); err != nil {
			return nil, err
		}
		p.tracer = p.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(config.ServiceVersion))
		p.meter = p.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(config.ServiceVersion))
	} else {
		p.tracer = otel.Tracer(instrumentationName)
		p.meter = otel.Meter(instrumentationName)
	}
	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("observability instruments: %w", err)
	}
	p.logger.DebugContext(ctx, "telemetry ready",
		"enabled", config.Enabled,
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

// export installs OTLP gRPC exporters for spans and metrics and makes them
// the global providers.
func (p *Provider) export(ctx context.Context) error {
	c := p.config
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
		semconv.DeploymentEnvironment(c.Environment),
	))
	if err != nil {
		return fmt.Errorf("telemetry resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(c.OTLPEndpoint)}
	if c.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	spanExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return fmt.Errorf("span exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spanExporter.Shutdown(ctx)
		return fmt.Errorf("metric exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(c.SampleRate)),
		sdktrace.WithBatcher(spanExporter, sdktrace.WithBatchTimeout(c.BatchTimeout)),
	)
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return nil
}

// sampler maps a ratio to a sampler; out of range values saturate.
func sampler(rate float64) sdktrace.Sampler {
	if rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	if rate <= 0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// initREDMetrics creates the rate, error and duration instruments plus the
// packet verdict counter.
func (p *Provider) initREDMetrics() error {
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&p.requestCounter, "munin.operations.total", "Operations started", "{operation}"},
		{&p.errorCounter, "munin.errors.total", "Operations that returned an error", "{error}"},
		{&p.verdictCounter, "munin.packets.verdicts", "Packet lifecycle transitions by resulting status", "{packet}"},
	}
	for _, c := range counters {
		ctr, err := p.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		*c.dst = ctr
	}

	var err error
	if p.durationHist, err = p.meter.Float64Histogram("munin.operation.duration",
		metric.WithDescription("Operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return fmt.Errorf("munin.operation.duration: %w", err)
	}
	if p.activeOperations, err = p.meter.Int64UpDownCounter("munin.operations.active",
		metric.WithDescription("Operations in flight"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return fmt.Errorf("munin.operations.active: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the exporting providers. A disabled provider
// has nothing to stop.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		errs = append(errs, p.tracerProvider.Shutdown(ctx))
	}
	if p.meterProvider != nil {
		errs = append(errs, p.meterProvider.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.WarnContext(ctx, "telemetry shutdown incomplete", "error", err)
		return err
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// RecordVerdict counts a packet reaching status.
func (p *Provider) RecordVerdict(ctx context.Context, status string, attrs ...attribute.KeyValue) {
	all := append([]attribute.KeyValue{attribute.String("packet.status", status)}, attrs...)
	p.verdictCounter.Add(ctx, 1, metric.WithAttributes(all...))
}

// TrackOperation starts a span for name and returns the function that ends
// it, recording duration and the error outcome.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append([]attribute.KeyValue{attribute.String("operation", name)}, attrs...)

	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	p.activeOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	return ctx, func(err error) {
		p.activeOperations.Add(ctx, -1, metric.WithAttributes(attrs...))
		p.durationHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		if err != nil {
			span.RecordError(err)
			errAttrs := append(append([]attribute.KeyValue(nil), attrs...), attribute.String("error.type", fmt.Sprintf("%T", err)))
			p.errorCounter.Add(ctx, 1, metric.WithAttributes(errAttrs...))
		}
		span.End()
	}
}
