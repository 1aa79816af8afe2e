package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingConfig enables OTLP/HTTP export of batch and session spans.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// TracingManager produces one span per batch, per identity session and per
// follow-up request. A nil or disabled manager hands out no-op spans.
type TracingManager struct {
	logger   *zap.SugaredLogger
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider
}

// NewTracingManager exports spans to config.OTLPEndpoint when enabled.
func NewTracingManager(logger *zap.SugaredLogger, config TracingConfig) (*TracingManager, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if !config.Enabled {
		logger.Debug("OpenTelemetry tracing disabled")
		return &TracingManager{logger: logger}, nil
	}

	provider, err := newProvider(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Infow("OpenTelemetry tracing initialized",
		"service_name", config.ServiceName,
		"otlp_endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate)
	return NewTracingManagerWithProvider(logger, config.ServiceName, provider), nil
}

// NewTracingManagerWithProvider traces through an existing provider.
func NewTracingManagerWithProvider(logger *zap.SugaredLogger, serviceName string, provider *trace.TracerProvider) *TracingManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &TracingManager{
		logger:   logger,
		tracer:   provider.Tracer(serviceName),
		provider: provider,
	}
}

func newProvider(config TracingConfig) (*trace.TracerProvider, error) {
	ctx := context.Background()
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(config.OTLPEndpoint),
		otlptracehttp.WithInsecure(), // collectors run next to the lab
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", config.ServiceName),
		attribute.String("service.version", config.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	rate := config.SampleRate
	if rate <= 0 {
		rate = 1
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(rate)),
	), nil
}

// IsEnabled reports whether spans are recorded.
func (tm *TracingManager) IsEnabled() bool {
	return tm != nil && tm.tracer != nil
}

// Close flushes pending spans.
func (tm *TracingManager) Close(ctx context.Context) error {
	if !tm.IsEnabled() {
		return nil
	}
	tm.logger.Debug("Shutting down OpenTelemetry tracing")
	return tm.provider.Shutdown(ctx)
}

func (tm *TracingManager) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if !tm.IsEnabled() {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return tm.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// TraceBatch starts the span covering a whole Tokens or Request batch.
func (tm *TracingManager) TraceBatch(ctx context.Context, operation string, identities int) (context.Context, oteltrace.Span) {
	return tm.start(ctx, "labbot.batch",
		attribute.String("labbot.operation", operation),
		attribute.Int("labbot.identities", identities))
}

// TraceSession starts the span of one identity's login.
func (tm *TracingManager) TraceSession(ctx context.Context, identity, correlationID string) (context.Context, oteltrace.Span) {
	return tm.start(ctx, "labbot.session",
		attribute.String("labbot.identity", identity),
		attribute.String("labbot.correlation_id", correlationID))
}

// TraceRequest starts the span of a follow-up FHIR request.
func (tm *TracingManager) TraceRequest(ctx context.Context, url string) (context.Context, oteltrace.Span) {
	return tm.start(ctx, "labbot.request", attribute.String("http.url", url))
}

// RecordOutcome tags the session span in ctx with its outcome and marks it
// failed when err is set.
func (tm *TracingManager) RecordOutcome(ctx context.Context, outcome string, err error) {
	if !tm.IsEnabled() {
		return
	}
	oteltrace.SpanFromContext(ctx).SetAttributes(attribute.String("labbot.outcome", outcome))
	tm.SetSpanError(ctx, err)
}

// SetSpanError marks the span in ctx as failed.
func (tm *TracingManager) SetSpanError(ctx context.Context, err error) {
	if !tm.IsEnabled() || err == nil {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
