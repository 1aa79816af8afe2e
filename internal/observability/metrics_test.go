package observability

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMetricsManager_Sessions(t *testing.T) {
	mm := NewMetricsManager(zaptest.NewLogger(t).Sugar())

	mm.SessionStarted()
	mm.SessionStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(mm.sessionsInFlight))

	mm.RecordSession("success", 3*time.Second)
	mm.RecordSession("login_failed", time.Second)
	mm.RecordLoginFailure("credentials_entered")

	assert.Equal(t, 0.0, testutil.ToFloat64(mm.sessionsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.sessions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.sessions.WithLabelValues("login_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.loginFailures.WithLabelValues("credentials_entered")))
	assert.Equal(t, 2, testutil.CollectAndCount(mm.sessionDuration))
}

func TestMetricsManager_ExchangesAndDiscovery(t *testing.T) {
	mm := NewMetricsManager(nil)

	mm.RecordTokenExchange(nil)
	mm.RecordTokenExchange(errors.New("invalid_grant"))
	mm.RecordDiscovery(nil)
	mm.RecordBatch(time.Minute, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(mm.tokenExchanges.WithLabelValues(StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.tokenExchanges.WithLabelValues(StatusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.discoveries.WithLabelValues(StatusSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(mm.batchAbandoned))
	assert.Greater(t, testutil.ToFloat64(mm.lastBatch), 0.0)
}

func TestMetricsManager_NilIsNoop(t *testing.T) {
	var mm *MetricsManager
	assert.NotPanics(t, func() {
		mm.SessionStarted()
		mm.RecordSession("success", time.Second)
		mm.RecordLoginFailure("start")
		mm.RecordTokenExchange(nil)
		mm.RecordDiscovery(nil)
		mm.RecordBatch(time.Second, 1)
	})
	assert.Nil(t, mm.Registry())
	assert.NoError(t, mm.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestMetricsManager_WriteTextfile(t *testing.T) {
	mm := NewMetricsManager(zaptest.NewLogger(t).Sugar())
	mm.SessionStarted()
	mm.RecordSession("success", 2*time.Second)

	path := filepath.Join(t.TempDir(), "labbot.prom")
	require.NoError(t, mm.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `labbot_sessions_total{outcome="success"} 1`)
	assert.Contains(t, string(data), "labbot_session_duration_seconds_bucket")
}

func TestMetricsManager_WriteTextfileEmptyPath(t *testing.T) {
	assert.NoError(t, NewMetricsManager(nil).WriteTextfile(""))
}
