package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/glimte/mmate-policy/config"
)

func TestInitTracer(t *testing.T) {
	t.Run("Disabled returns a no-op shutdown", func(t *testing.T) {
		shutdown, err := InitTracer(context.Background(), config.TracingConfig{}, nil)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()

	tp, err := NewProvider(ctx, config.TracingConfig{ServiceName: "test", ServiceVersion: "1.2.3", SamplingRate: 1}, sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(ctx) }()

	_, span := tp.Tracer("test").Start(ctx, "op")
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name())

	found := false
	for _, attr := range spans[0].Resource().Attributes() {
		if attr.Key == "service.name" {
			found = true
			assert.Equal(t, "test", attr.Value.AsString())
		}
	}
	assert.True(t, found)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), Sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), Sampler(1).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.5).Description(), Sampler(0.5).Description())
}
