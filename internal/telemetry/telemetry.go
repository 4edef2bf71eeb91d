// Package telemetry wraps OpenTelemetry tracing for routed calls. Until Init
// installs a provider, spans go to the global no-op provider.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/felipepmaragno/llm-router"

// Span attribute keys.
const (
	keyProvider       = attribute.Key("llm.provider")
	keyModel          = attribute.Key("llm.model")
	keyRequestedModel = attribute.Key("llm.model.requested")
	keyRequestID      = attribute.Key("llm.request_id")
	keyRouted         = attribute.Key("llm.routing.routed")
	keyConfidence     = attribute.Key("llm.routing.confidence")
	keyReasoning      = attribute.Key("llm.routing.reasoning")
	keyInputTokens    = attribute.Key("llm.tokens.input")
	keyOutputTokens   = attribute.Key("llm.tokens.output")
	keyEstimatedCost  = attribute.Key("llm.cost.estimated_usd")
	keySavings        = attribute.Key("llm.cost.savings_usd")
	keyCacheHit       = attribute.Key("llm.cache.hit")
	keyQualityScore   = attribute.Key("llm.quality.score")
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP gRPC collector address. Empty disables export.
	Endpoint string
	// SampleRatio is the fraction of root spans kept. Zero keeps all.
	SampleRatio float64
}

// Init installs an OTLP gRPC tracer provider as the global provider. The
// returned function flushes and stops it.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		slog.Info("telemetry disabled, no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("telemetry initialized", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)

	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts a span on the current global provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

func AddRequestAttributes(span trace.Span, provider, model, requestedModel, requestID string) {
	span.SetAttributes(
		keyProvider.String(provider),
		keyModel.String(model),
		keyRequestedModel.String(requestedModel),
		keyRequestID.String(requestID),
	)
}

func AddRoutingAttributes(span trace.Span, routed bool, confidence float64, reasoning string) {
	span.SetAttributes(
		keyRouted.Bool(routed),
		keyConfidence.Float64(confidence),
		keyReasoning.String(reasoning),
	)
}

func AddTokenAttributes(span trace.Span, inputTokens, outputTokens int) {
	span.SetAttributes(keyInputTokens.Int(inputTokens), keyOutputTokens.Int(outputTokens))
}

func AddCostAttributes(span trace.Span, estimatedUSD, savingsUSD float64) {
	span.SetAttributes(keyEstimatedCost.Float64(estimatedUSD), keySavings.Float64(savingsUSD))
}

func AddCacheAttribute(span trace.Span, cacheHit bool) {
	span.SetAttributes(keyCacheHit.Bool(cacheHit))
}

func AddQualityAttribute(span trace.Span, score float64) {
	span.SetAttributes(keyQualityScore.Float64(score))
}

// AddErrorAttribute records err on the span and marks it failed.
func AddErrorAttribute(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// GetTraceID returns the hex trace ID of the span in ctx, or "".
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
