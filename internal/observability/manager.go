// Package observability carries the batch metrics and session tracing of a
// labbot run.
package observability

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/health-apis/labbot/internal/config"
)

// Result labels
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Config holds configuration for observability features
type Config struct {
	Metrics MetricsConfig `json:"metrics"`
	Tracing TracingConfig `json:"tracing"`
}

// MetricsConfig holds configuration for metrics
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	// Textfile receives the metrics when the manager closes.
	Textfile string `json:"textfile,omitempty"`
}

// DefaultConfig returns metrics on and tracing off
func DefaultConfig(serviceName, serviceVersion string) Config {
	return Config{
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			SampleRate:     1,
		},
	}
}

// ConfigFrom derives the observability settings from the run configuration.
func ConfigFrom(cfg *config.Config, serviceVersion string) Config {
	oc := DefaultConfig("labbot", serviceVersion)
	oc.Metrics.Textfile = cfg.MetricsFile
	if cfg.OTLPEndpoint != "" {
		oc.Tracing.Enabled = true
		oc.Tracing.OTLPEndpoint = cfg.OTLPEndpoint
	}
	return oc
}

// Manager coordinates all observability features
type Manager struct {
	logger  *zap.SugaredLogger
	config  Config
	metrics *MetricsManager
	tracing *TracingManager
}

// NewManager creates a new observability manager
func NewManager(logger *zap.SugaredLogger, config Config) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	manager := &Manager{
		logger: logger,
		config: config,
	}

	if config.Metrics.Enabled {
		manager.metrics = NewMetricsManager(logger)
	}

	if config.Tracing.Enabled {
		var err error
		manager.tracing, err = NewTracingManager(logger, config.Tracing)
		if err != nil {
			return nil, err
		}
	}

	return manager, nil
}

// Metrics returns the metrics manager, nil when disabled
func (m *Manager) Metrics() *MetricsManager {
	return m.metrics
}

// Tracing returns the tracing manager, nil when disabled
func (m *Manager) Tracing() *TracingManager {
	return m.tracing
}

// Close writes the metrics textfile and flushes pending spans
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	if err := m.metrics.WriteTextfile(m.config.Metrics.Textfile); err != nil {
		errs = append(errs, err)
	}
	if err := m.tracing.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
