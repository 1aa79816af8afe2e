package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// MetricsManager manages Prometheus metrics for login batches. All methods
// are safe on a nil receiver so callers need not check whether metrics are
// enabled.
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	sessions         *prometheus.CounterVec
	sessionDuration  *prometheus.HistogramVec
	sessionsInFlight prometheus.Gauge
	loginFailures    *prometheus.CounterVec
	tokenExchanges   *prometheus.CounterVec
	discoveries      *prometheus.CounterVec
	batchDuration    prometheus.Histogram
	batchAbandoned   prometheus.Counter
	lastBatch        prometheus.Gauge
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

// initMetrics initializes all Prometheus metrics
func (mm *MetricsManager) initMetrics() {
	mm.sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labbot_sessions_total",
			Help: "Login sessions by outcome",
		},
		[]string{"outcome"},
	)

	mm.sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labbot_session_duration_seconds",
			Help:    "Login session duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	mm.sessionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "labbot_sessions_in_flight",
		Help: "Login sessions currently running",
	})

	mm.loginFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labbot_login_failures_total",
			Help: "Failed logins by the last login state reached",
		},
		[]string{"state"},
	)

	mm.tokenExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labbot_token_exchanges_total",
			Help: "Token exchanges by result",
		},
		[]string{"result"}, // result: success, error
	)

	mm.discoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labbot_discoveries_total",
			Help: "Capability document fetches by result",
		},
		[]string{"result"},
	)

	mm.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "labbot_batch_duration_seconds",
		Help:    "Batch duration in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
	})

	mm.batchAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "labbot_batch_abandoned_sessions_total",
		Help: "Sessions abandoned when a batch timed out",
	})

	mm.lastBatch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "labbot_last_batch_timestamp_seconds",
		Help: "Unix time the last batch finished",
	})
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.sessions,
		mm.sessionDuration,
		mm.sessionsInFlight,
		mm.loginFailures,
		mm.tokenExchanges,
		mm.discoveries,
		mm.batchDuration,
		mm.batchAbandoned,
		mm.lastBatch,
	)
}

// SessionStarted marks one more session running.
func (mm *MetricsManager) SessionStarted() {
	if mm == nil {
		return
	}
	mm.sessionsInFlight.Inc()
}

// RecordSession records a finished session.
func (mm *MetricsManager) RecordSession(outcome string, duration time.Duration) {
	if mm == nil {
		return
	}
	mm.sessionsInFlight.Dec()
	mm.sessions.WithLabelValues(outcome).Inc()
	mm.sessionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordLoginFailure records a login that stopped at state.
func (mm *MetricsManager) RecordLoginFailure(state string) {
	if mm == nil {
		return
	}
	mm.loginFailures.WithLabelValues(state).Inc()
}

// RecordTokenExchange records a token exchange result.
func (mm *MetricsManager) RecordTokenExchange(err error) {
	if mm == nil {
		return
	}
	mm.tokenExchanges.WithLabelValues(status(err)).Inc()
}

// RecordDiscovery records a capability document fetch.
func (mm *MetricsManager) RecordDiscovery(err error) {
	if mm == nil {
		return
	}
	mm.discoveries.WithLabelValues(status(err)).Inc()
}

// RecordBatch records a finished batch and how many sessions it abandoned.
func (mm *MetricsManager) RecordBatch(duration time.Duration, abandoned int) {
	if mm == nil {
		return
	}
	mm.batchDuration.Observe(duration.Seconds())
	if abandoned > 0 {
		mm.batchAbandoned.Add(float64(abandoned))
	}
	mm.lastBatch.SetToCurrentTime()
}

// Registry returns the Prometheus registry
func (mm *MetricsManager) Registry() *prometheus.Registry {
	if mm == nil {
		return nil
	}
	return mm.registry
}

// WriteTextfile writes every metric to path in the text exposition format,
// for pickup by a node exporter textfile collector.
func (mm *MetricsManager) WriteTextfile(path string) error {
	if mm == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, mm.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	mm.logger.Debugw("Wrote metrics textfile", "path", path)
	return nil
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
