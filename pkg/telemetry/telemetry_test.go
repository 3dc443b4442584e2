package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jobstarter/jobstarter/pkg/engine"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, wantErr: true},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: true},
		{name: "zero buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMetrics_Counters(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.RecordEnvironmentConstructed("table")
	m.ContextBuilt(engine.StageExecution, "")
	m.ContextBuilt(engine.StageDerived, engine.FamilyTable)
	m.MissingOptionalKey("state.retention.min")
	m.MissingOptionalKey("state.retention.min")
	m.RecordPassThrough("table", 3)
	m.RecordPassThrough("table", 0)
	m.RecordPrepare("table", "succeeded", 10*time.Millisecond)
	m.RecordError(engine.NewMissingKeyError("engine.x"))
	m.RecordError(errors.New("plain"))
	m.RecordPolicyViolation("error")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.environmentsConstructed.WithLabelValues("table")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.contextsBuilt.WithLabelValues(engine.StageDerived, "table")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.missingKeys.WithLabelValues("state.retention.min")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.passThroughKeys.WithLabelValues("table")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.prepares.WithLabelValues("table", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("permanent", engine.ErrCodeConfigMissing)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("unknown", engine.ErrCodeInternal)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.policyViolations.WithLabelValues("error")))

	n, err := testutil.GatherAndCount(m.Registry(), "jobstarter_config_keys_missing_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.RecordEnvironmentConstructed("table")
		m.ContextBuilt(engine.StageExecution, "")
		m.MissingOptionalKey("k")
		m.RecordPassThrough("session", 2)
		m.RecordPrepare("session", "failed", time.Second)
		m.RecordError(errors.New("x"))
		m.RecordPolicyViolation("warning")
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.StartMetricsServer(context.Background()))
}

func TestEventPublisher_Sync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 8})
	require.NoError(t, err)

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, nil)

	var warnings []Event
	ep.Subscribe(func(e Event) { warnings = append(warnings, e) }, FilterByLevel(EventLevelWarning))

	require.NoError(t, ep.PublishEnvironmentCreated("env-1", "table"))
	require.NoError(t, ep.PublishKeyMissing("env-1", "state.retention.max"))
	require.NoError(t, ep.PublishEnvironmentFailed("env-1", "orders", "boom"))

	require.Len(t, got, 3)
	assert.Equal(t, EventTypeEnvironmentCreated, got[0].Type)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.Equal(t, "state.retention.max", got[1].Data["key"])

	require.Len(t, warnings, 2)
	assert.Equal(t, EventTypeConfigKeyMissing, warnings[0].Type)
	assert.Equal(t, EventTypeEnvironmentFailed, warnings[1].Type)

	require.NoError(t, ep.Shutdown(context.Background()))
}

func TestEventPublisher_GlobalFilter(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 8})
	require.NoError(t, err)

	ep.AddFilter(FilterByEnvironmentID("keep"))

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.EnvironmentID) }, FilterByType(EventTypeEnvironmentCreated))

	require.NoError(t, ep.PublishEnvironmentCreated("keep", "table"))
	require.NoError(t, ep.PublishEnvironmentCreated("drop", "table"))
	require.NoError(t, ep.PublishKeyMissing("keep", "x"))

	assert.Equal(t, []string{"keep"}, got)
}

func TestEventPublisher_AsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		EnableAsync:   true,
		BufferSize:    64,
		MaxBatchSize:  100,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		count int
	)
	ep.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, ep.PublishEnvironmentCreated("env", "session"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ep.Shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, count)
}

func TestEventPublisher_Disabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	require.NoError(t, err)

	called := false
	ep.Subscribe(func(Event) { called = true }, nil)
	require.NoError(t, ep.PublishEnvironmentCreated("env", "table"))
	assert.False(t, called)
	assert.NoError(t, ep.Shutdown(context.Background()))
}

func TestTracer_PrepareSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := NewTracerWithProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)), "test")

	ctx, span := tracer.StartPrepareSpan(context.Background(), "env-1", "table", "STREAMING")
	assert.NotEmpty(t, TraceID(ctx))
	RecordError(span, errors.New("failed"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, SpanPrepare, ended[0].Name())

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "env-1", attrs[string(AttrEnvironmentID)])
	assert.Equal(t, "table", attrs[string(AttrFamily)])
	assert.Equal(t, "STREAMING", attrs[string(AttrJobMode)])
	assert.Equal(t, "failed", ended[0].Status().Description)
}

func TestNewNop(t *testing.T) {
	tel := NewNop()

	ctx := tel.WithContext(context.Background())
	assert.Same(t, tel, FromTelemetryContext(ctx))

	ic := StartOperation(ctx, "noop")
	ic.Logger.Zerolog().Info().Msg("discarded")
	ic.End(nil)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestLogger_ScopedFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerFromZerolog(zerolog.New(&buf)).
		NewComponentLogger("cli").
		WithEnvironment("env-1", "session").
		WithJob("orders")

	logger.Zerolog().Info().Msg("prepared")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cli", line["component"])
	assert.Equal(t, "env-1", line["environment_id"])
	assert.Equal(t, "session", line["family"])
	assert.Equal(t, "orders", line["job"])
}

func TestStartOperation_TracesAndLogs(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	var buf bytes.Buffer
	tel := &Telemetry{
		Logger: NewLoggerFromZerolog(zerolog.New(&buf)),
		Tracer: NewTracerWithProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)), "test"),
	}

	ic := StartOperation(tel.WithContext(context.Background()), "cli.prepare")
	require.NotNil(t, ic.Span)
	AddEvent(ic.Span, "settings.committed", attribute.Int("settings", 2))
	ic.Logger.Zerolog().Info().Msg("done")
	ic.End(errors.New("boom"))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "cli.prepare", ended[0].Name())
	var events []string
	for _, e := range ended[0].Events() {
		events = append(events, e.Name)
	}
	assert.Equal(t, []string{"settings.committed", "exception"}, events)
	assert.Equal(t, "boom", ended[0].Status().Description)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cli.prepare", line["operation"])
	assert.Equal(t, ended[0].SpanContext().TraceID().String(), line["trace_id"])
}

func TestMetrics_StartMetricsServerAddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := DefaultConfig().Metrics
	cfg.ListenAddress = ln.Addr().String()
	m, err := NewMetrics(cfg)
	require.NoError(t, err)

	err = m.StartMetricsServer(context.Background())
	assert.ErrorContains(t, err, "failed to listen")
}
