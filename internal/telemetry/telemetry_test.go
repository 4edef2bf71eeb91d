package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestSpanAttributes(t *testing.T) {
	rec := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "llm.complete")
	AddRequestAttributes(span, "openai", "gpt-4o-mini", "gpt-4", "req-1")
	AddRoutingAttributes(span, true, 0.85, "simple prompt")
	AddCacheAttribute(span, false)
	assert.NotEmpty(t, GetTraceID(ctx))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)

	attrs := map[string]any{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "gpt-4o-mini", attrs["llm.model"])
	assert.Equal(t, "gpt-4", attrs["llm.model.requested"])
	assert.Equal(t, true, attrs["llm.routing.routed"])
	assert.Equal(t, false, attrs["llm.cache.hit"])
}

func TestAddErrorAttribute(t *testing.T) {
	rec := withRecorder(t)

	_, span := StartSpan(context.Background(), "llm.provider_call")
	AddErrorAttribute(span, errors.New("upstream 503"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Events(), 1)
}

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestInit_NoEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
