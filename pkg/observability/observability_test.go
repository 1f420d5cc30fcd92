package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.False(t, c.Enabled)
	assert.Equal(t, "munin", c.ServiceName)
	assert.Equal(t, "localhost:4317", c.OTLPEndpoint)
	assert.Equal(t, 1.0, c.SampleRate)
}

func TestNewDisabled(t *testing.T) {
	p, err := New(context.Background(), DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	_, done := p.TrackOperation(context.Background(), "simulate")
	done(errors.New("boom"))
	p.RecordVerdict(context.Background(), "authorized")
	require.NoError(t, p.Shutdown(context.Background()))
}

// inMemory builds a provider backed by in-memory exporters.
func inMemory(t *testing.T) (*Provider, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	p := &Provider{
		tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
	p.tracer = p.tracerProvider.Tracer("test")
	p.meter = p.meterProvider.Meter("test")
	require.NoError(t, p.initREDMetrics())
	return p, spans, reader
}

func TestTrackOperation(t *testing.T) {
	p, spans, reader := inMemory(t)
	ctx := context.Background()

	_, done := p.TrackOperation(ctx, "cascade.simulate", attribute.String("severity", "high"))
	done(nil)
	_, done = p.TrackOperation(ctx, "cascade.simulate")
	done(errors.New("no seeds"))

	ended := spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "cascade.simulate", ended[0].Name())
	assert.Len(t, ended[1].Events(), 1, "error recorded on span")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), totals["munin.operations.total"])
	assert.Equal(t, int64(1), totals["munin.errors.total"])
	assert.Equal(t, int64(0), totals["munin.operations.active"])
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1.5).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), sampler(0.25).Description())
}
