package reqcontext

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGenerateCorrelationID(t *testing.T) {
	id1 := GenerateCorrelationID()
	id2 := GenerateCorrelationID()

	assert.NotEmpty(t, id1, "Correlation ID should not be empty")
	assert.NotEqual(t, id1, id2, "Each correlation ID should be unique")
	assert.Len(t, id1, 36, "Correlation ID should be a canonical UUID")
}

func TestWithCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "test-correlation-123")
	assert.Equal(t, "test-correlation-123", GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.TODO()))
}

func TestFields(t *testing.T) {
	assert.Empty(t, Fields(context.Background()))

	ctx := WithIdentity(WithCorrelationID(context.Background(), "cid"), "vasdvp+IDME_01@gmail.com")
	fields := Fields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "correlation_id", fields[0].Key)
	assert.Equal(t, "identity", fields[1].Key)
	assert.Equal(t, "vasdvp+IDME_01@gmail.com", GetIdentity(ctx))
}

func TestEnter_NestedSteps(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	ctx, leaveOuter := Enter(context.Background(), logger, "session")
	assert.Equal(t, 1, Depth(ctx))
	cid := GetCorrelationID(ctx)
	require.NotEmpty(t, cid)

	inner, leaveInner := Enter(ctx, logger, "login", zap.String("provider", "id.me"))
	assert.Equal(t, 2, Depth(inner))
	assert.Equal(t, cid, GetCorrelationID(inner))
	leaveInner(errors.New("bad credentials"))
	leaveInner(nil) // second call is ignored

	leaveOuter(nil)

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "ENTER", entries[0].Message)
	assert.Equal(t, "ENTER", entries[1].Message)
	assert.Equal(t, "LEAVE", entries[2].Message)
	assert.Equal(t, "LEAVE", entries[3].Message)

	innerLeave := entries[2].ContextMap()
	assert.Equal(t, "login", innerLeave["step"])
	assert.Equal(t, int64(2), innerLeave["depth"])
	assert.Equal(t, "bad credentials", innerLeave["error"])
	assert.Equal(t, "*errors.errorString", innerLeave["error_kind"])
	assert.NotContains(t, innerLeave, "timings")

	outerLeave := entries[3].ContextMap()
	assert.Equal(t, cid, outerLeave["correlation_id"])
	timings, ok := outerLeave["timings"].([]interface{})
	require.True(t, ok)
	assert.Len(t, timings, 2)
}

func TestEnter_SeparateTopLevelStepsDoNotShareTimings(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	_, leaveA := Enter(context.Background(), logger, "a")
	_, leaveB := Enter(context.Background(), logger, "b")
	leaveA(nil)
	leaveB(nil)

	for _, e := range logs.FilterMessage("LEAVE").All() {
		timings := e.ContextMap()["timings"].([]interface{})
		assert.Len(t, timings, 1)
	}
}

func TestDepth_OutsideStep(t *testing.T) {
	assert.Equal(t, 0, Depth(context.Background()))
}
