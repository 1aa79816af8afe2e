package observability

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/health-apis/labbot/internal/config"
)

func TestTracingManager_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tm := NewTracingManagerWithProvider(zaptest.NewLogger(t).Sugar(), "labbot", provider)

	ctx, batch := tm.TraceBatch(context.Background(), "tokens", 2)
	sessionCtx, session := tm.TraceSession(ctx, "alice", "cid-1")
	tm.RecordOutcome(sessionCtx, "login_failed", errors.New("bad credentials"))
	session.End()
	batch.End()

	require.NoError(t, tm.Close(context.Background()))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "labbot.session", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("labbot.outcome", "login_failed"))
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, "labbot.batch", spans[1].Name())
}

func TestTracingManager_Disabled(t *testing.T) {
	tm, err := NewTracingManager(zaptest.NewLogger(t).Sugar(), TracingConfig{})
	require.NoError(t, err)
	assert.False(t, tm.IsEnabled())

	ctx, span := tm.TraceSession(context.Background(), "alice", "cid")
	assert.False(t, span.SpanContext().IsValid())
	tm.SetSpanError(ctx, errors.New("ignored"))
	span.End()
	assert.NoError(t, tm.Close(context.Background()))

	var nilManager *TracingManager
	_, span = nilManager.TraceRequest(context.Background(), "http://x")
	assert.False(t, span.SpanContext().IsValid())
}

func TestManager_CloseWritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.prom")
	cfg := &config.Config{MetricsFile: path}

	m, err := NewManager(zaptest.NewLogger(t).Sugar(), ConfigFrom(cfg, "test"))
	require.NoError(t, err)
	require.NotNil(t, m.Metrics())
	assert.Nil(t, m.Tracing())

	m.Metrics().RecordBatch(0, 0)
	require.NoError(t, m.Close(context.Background()))
	assert.FileExists(t, path)
}

func TestConfigFrom_EnablesTracingWithEndpoint(t *testing.T) {
	oc := ConfigFrom(&config.Config{OTLPEndpoint: "localhost:4318"}, "1.0")
	assert.True(t, oc.Tracing.Enabled)
	assert.Equal(t, "localhost:4318", oc.Tracing.OTLPEndpoint)
	assert.Equal(t, "labbot", oc.Tracing.ServiceName)
}
