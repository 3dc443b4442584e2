package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jobstarter/jobstarter/pkg/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for runtime environment bootstrapping.
// It implements engine.Recorder and config.WarningRecorder. A disabled
// Metrics is a valid no-op.
type Metrics struct {
	config MetricsConfig

	// Environment metrics
	environmentsConstructed *prometheus.CounterVec
	prepares                *prometheus.CounterVec
	prepareDuration         *prometheus.HistogramVec

	// Engine metrics
	contextsBuilt *prometheus.CounterVec

	// Configuration metrics
	missingKeys     *prometheus.CounterVec
	passThroughKeys *prometheus.CounterVec

	// Error metrics
	errors           *prometheus.CounterVec
	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		environmentsConstructed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "environments_constructed_total",
				Help:      "Total number of runtime environments constructed",
			},
			[]string{"family"},
		),
		prepares: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "environment_prepares_total",
				Help:      "Total number of environment preparations by outcome",
			},
			[]string{"family", "status"},
		),
		prepareDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "environment_prepare_duration_seconds",
				Help:      "Duration of environment preparation in seconds",
				Buckets:   buckets,
			},
			[]string{"family"},
		),
		contextsBuilt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_contexts_built_total",
				Help:      "Total number of engine contexts built by stage",
			},
			[]string{"stage", "family"},
		),
		missingKeys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_keys_missing_total",
				Help:      "Total number of optional configuration keys found unset",
			},
			[]string{"key"},
		),
		passThroughKeys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_passthrough_keys_total",
				Help:      "Total number of engine settings passed through verbatim",
			},
			[]string{"family"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of bootstrap errors by class and code",
			},
			[]string{"class", "code"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of settings policy violations by severity",
			},
			[]string{"severity"},
		),
	}

	registry.MustRegister(
		m.environmentsConstructed,
		m.prepares,
		m.prepareDuration,
		m.contextsBuilt,
		m.missingKeys,
		m.passThroughKeys,
		m.errors,
		m.policyViolations,
	)

	return m, nil
}

// Registry returns the metrics registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordEnvironmentConstructed counts a newly constructed environment.
func (m *Metrics) RecordEnvironmentConstructed(family string) {
	if m.environmentsConstructed == nil {
		return
	}
	m.environmentsConstructed.WithLabelValues(family).Inc()
}

// RecordPrepare records the outcome and duration of a Prepare call.
func (m *Metrics) RecordPrepare(family, status string, duration time.Duration) {
	if m.prepares == nil {
		return
	}
	m.prepares.WithLabelValues(family, status).Inc()
	m.prepareDuration.WithLabelValues(family).Observe(duration.Seconds())
}

// ContextBuilt implements engine.Recorder.
func (m *Metrics) ContextBuilt(stage string, family engine.Family) {
	if m.contextsBuilt == nil {
		return
	}
	m.contextsBuilt.WithLabelValues(stage, string(family)).Inc()
}

// MissingOptionalKey implements config.WarningRecorder.
func (m *Metrics) MissingOptionalKey(key string) {
	if m.missingKeys == nil {
		return
	}
	m.missingKeys.WithLabelValues(key).Inc()
}

// RecordPassThrough counts settings copied from the override sub-tree.
func (m *Metrics) RecordPassThrough(family string, n int) {
	if m.passThroughKeys == nil || n <= 0 {
		return
	}
	m.passThroughKeys.WithLabelValues(family).Add(float64(n))
}

// RecordError records a bootstrap error, classifying engine errors.
func (m *Metrics) RecordError(err error) {
	if m.errors == nil || err == nil {
		return
	}
	class, code := "unknown", engine.ErrCodeInternal
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		class, code = string(ee.Class), ee.Code
	}
	m.errors.WithLabelValues(class, code).Inc()
}

// RecordPolicyViolation counts a policy violation.
func (m *Metrics) RecordPolicyViolation(severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(severity).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is done. It is a
// no-op when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Bind before returning so an unusable address fails the caller.
	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
