package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jobstarter/jobstarter/pkg/config"
	"github.com/jobstarter/jobstarter/pkg/engine"
	"github.com/jobstarter/jobstarter/pkg/policy"
	"github.com/jobstarter/jobstarter/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotPrepared is returned by context accessors before a successful Prepare.
var ErrNotPrepared = errors.New("runtime environment not prepared")

// Environment status values.
const (
	StatusPending  = "pending"
	StatusPrepared = "prepared"
	StatusFailed   = "failed"
)

// Span events added to the prepare span as each stage is committed.
const (
	EventRetentionCommitted = "retention.committed"
	EventSettingsCommitted  = "settings.committed"
)

// RuntimeEnvironment owns a job's configuration, its job mode and the engine
// contexts built from them.
type RuntimeEnvironment interface {
	// SetConfig replaces the held configuration. It has no effect on contexts
	// built by an earlier Prepare.
	SetConfig(src *config.Source) RuntimeEnvironment

	// SetJobMode records the job mode. It has no effect after Prepare.
	SetJobMode(mode engine.JobMode) RuntimeEnvironment

	// Prepare builds the execution context and the derived context and applies
	// the configured tuning. Only the first call does any work; later calls
	// return its result.
	Prepare(ctx context.Context) error

	Config() *config.Source
	JobMode() engine.JobMode
	JobName() (string, bool)
	Family() engine.Family
	ID() string
	Prepared() bool

	// ExecutionContext returns the stage-1 context, or ErrNotPrepared.
	ExecutionContext() (*engine.ExecutionContext, error)

	// Summary describes the environment and the outcome of Prepare.
	Summary() Summary
}

// Summary is a snapshot of an environment, suitable for printing and recording.
type Summary struct {
	ID         string                  `json:"id"`
	JobName    string                  `json:"job_name,omitempty"`
	Mode       engine.JobMode          `json:"mode"`
	Family     engine.Family           `json:"family"`
	Source     string                  `json:"source,omitempty"`
	Status     string                  `json:"status"`
	Retention  *engine.RetentionWindow `json:"retention,omitempty"`
	Settings   map[string]string       `json:"settings,omitempty"`
	Warnings   []string                `json:"warnings,omitempty"`
	Violations []policy.Violation      `json:"violations,omitempty"`
	Error      string                  `json:"error,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	PreparedAt time.Time               `json:"prepared_at,omitempty"`
	Duration   time.Duration           `json:"duration,omitempty"`
}

// deriver is implemented by each environment variant to build and tune its
// stage-2 context.
type deriver interface {
	derive(ctx context.Context, exec *engine.ExecutionContext, mode engine.JobMode) error
	appliesRetention() bool
	applyRetention(w engine.RetentionWindow) error
	passThroughTarget() *engine.Settings
}

// base holds the state shared by all environment variants.
type base struct {
	id        string
	family    engine.Family
	cfg       *config.Source
	mode      engine.JobMode
	jobName   string
	hasName   bool
	createdAt time.Time

	factory engine.ContextFactory
	policy  *policy.Engine
	tel     *telemetry.Telemetry
	tlog    *telemetry.Logger
	logger  zerolog.Logger
	applier *config.Applier

	once       sync.Once
	prepareErr error
	prepared   bool
	exec       *engine.ExecutionContext

	resolvedMode engine.JobMode
	retention    *engine.RetentionWindow
	settings     map[string]string
	warnings     []string
	violations   []policy.Violation
	preparedAt   time.Time
	duration     time.Duration
}

func newBase(opts Options) *base {
	id := uuid.New().String()
	b := &base{
		id:        id,
		family:    opts.Family,
		cfg:       opts.Config,
		mode:      opts.JobMode,
		jobName:   opts.JobName,
		hasName:   opts.JobName != "",
		createdAt: time.Now(),
		factory:   opts.Factory,
		policy:    opts.Policy,
		tel:       opts.Telemetry,
		tlog:      telemetry.NewLoggerFromZerolog(*opts.Logger).WithEnvironment(id, string(opts.Family)),
	}
	b.logger = b.tlog.Zerolog()
	if b.hasName {
		b.logger = b.tlog.WithJob(b.jobName).Zerolog()
	}
	b.applier = config.NewApplier(b.logger, warningSink{b: b})

	b.tel.Metrics.RecordEnvironmentConstructed(string(b.family))
	b.publish(func(ep *telemetry.EventPublisher) error {
		return ep.PublishEnvironmentCreated(b.id, string(b.family))
	})
	b.logger.Debug().Msg("Runtime environment constructed")
	return b
}

// warningSink collects missing-key warnings for the summary and forwards them
// to metrics and events.
type warningSink struct {
	b *base
}

func (s warningSink) MissingOptionalKey(key string) {
	s.b.warnings = append(s.b.warnings, key)
	s.b.tel.Metrics.MissingOptionalKey(key)
	s.b.publish(func(ep *telemetry.EventPublisher) error {
		return ep.PublishKeyMissing(s.b.id, key)
	})
}

func (b *base) publish(fn func(*telemetry.EventPublisher) error) {
	if err := fn(b.tel.Events); err != nil {
		b.logger.Debug().Err(err).Msg("Failed to publish event")
	}
}

func (b *base) setConfig(src *config.Source) {
	if b.prepared {
		b.logger.Debug().Msg("Configuration replaced after prepare; constructed contexts are unaffected")
	}
	b.cfg = src
}

func (b *base) setJobMode(mode engine.JobMode) {
	if b.prepared {
		b.logger.Debug().Str("mode", mode.String()).Msg("Job mode set after prepare; constructed contexts are unaffected")
	}
	b.mode = mode
}

// Config returns the held configuration.
func (b *base) Config() *config.Source { return b.cfg }

// JobMode returns the effective job mode. After Prepare it is the mode the
// contexts were built with.
func (b *base) JobMode() engine.JobMode {
	if b.prepared {
		return b.resolvedMode
	}
	mode, err := b.effectiveMode()
	if err != nil {
		return engine.JobModeBatch
	}
	return mode
}

func (b *base) effectiveMode() (engine.JobMode, error) {
	if b.mode != "" {
		return b.mode, nil
	}
	if b.cfg == nil {
		return engine.JobModeBatch, nil
	}
	return b.applier.JobMode(b.cfg)
}

// JobName returns the job name. ok is false when neither the options nor the
// configuration set one.
func (b *base) JobName() (string, bool) {
	return b.jobName, b.hasName
}

// Family returns the engine family of the environment.
func (b *base) Family() engine.Family { return b.family }

// ID returns the environment identifier.
func (b *base) ID() string { return b.id }

// Prepared reports whether Prepare completed successfully.
func (b *base) Prepared() bool { return b.prepared }

// ExecutionContext returns the stage-1 context.
func (b *base) ExecutionContext() (*engine.ExecutionContext, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.exec, nil
}

func (b *base) ready() error {
	if b.prepared {
		return nil
	}
	if b.prepareErr != nil {
		return fmt.Errorf("%w: %v", ErrNotPrepared, b.prepareErr)
	}
	return ErrNotPrepared
}

// Summary returns a snapshot of the environment.
func (b *base) Summary() Summary {
	s := Summary{
		ID:         b.id,
		JobName:    b.jobName,
		Mode:       b.JobMode(),
		Family:     b.family,
		Status:     StatusPending,
		Retention:  b.retention,
		Warnings:   append([]string(nil), b.warnings...),
		Violations: append([]policy.Violation(nil), b.violations...),
		CreatedAt:  b.createdAt,
		PreparedAt: b.preparedAt,
		Duration:   b.duration,
	}
	if b.cfg != nil {
		s.Source = b.cfg.Origin()
	}
	if len(b.settings) > 0 {
		s.Settings = make(map[string]string, len(b.settings))
		for k, v := range b.settings {
			s.Settings[k] = v
		}
	}
	switch {
	case b.prepared:
		s.Status = StatusPrepared
	case b.prepareErr != nil:
		s.Status = StatusFailed
		s.Error = b.prepareErr.Error()
	}
	return s
}

// prepare runs the construction pipeline once. A failed first call is sticky.
func (b *base) prepare(ctx context.Context, d deriver) error {
	b.once.Do(func() {
		b.prepareErr = b.run(ctx, d)
	})
	return b.prepareErr
}

func (b *base) run(ctx context.Context, d deriver) error {
	start := time.Now()

	if b.cfg == nil {
		b.cfg = config.Empty()
	}
	mode, err := b.effectiveMode()
	if err != nil {
		b.fail(err, time.Since(start))
		return err
	}
	b.resolvedMode = mode

	ctx, span := b.tel.Tracer.StartPrepareSpan(ctx, b.id, string(b.family), mode.String())
	defer span.End()

	if err := b.build(ctx, d, mode); err != nil {
		telemetry.RecordError(span, err)
		b.fail(err, time.Since(start))
		return err
	}

	b.duration = time.Since(start)
	b.preparedAt = time.Now()
	b.prepared = true
	telemetry.RecordSuccess(span)

	b.tel.Metrics.RecordPrepare(string(b.family), StatusPrepared, b.duration)
	b.publish(func(ep *telemetry.EventPublisher) error {
		return ep.PublishEnvironmentPrepared(b.id, b.jobName, mode.String(), b.duration)
	})
	b.logger.Info().
		Str("mode", mode.String()).
		Int("settings", len(b.settings)).
		Dur("duration", b.duration).
		Msg("Runtime environment prepared")

	return nil
}

func (b *base) build(ctx context.Context, d deriver, mode engine.JobMode) error {
	opts, err := b.applier.ExecutionOptions(b.cfg, mode)
	if err != nil {
		return err
	}

	exec, err := b.factory.NewExecutionContext(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to build execution context: %w", err)
	}

	if err := d.derive(ctx, exec, mode); err != nil {
		return fmt.Errorf("failed to build %s context: %w", b.family, err)
	}

	var window *engine.RetentionWindow
	if d.appliesRetention() {
		w, ok, err := b.applier.RetentionWindow(b.cfg)
		if err != nil {
			return err
		}
		if ok {
			window = &w
		}
	}

	staged := engine.NewSettings()
	if _, err := b.applier.PassThrough(b.cfg, staged); err != nil {
		return err
	}

	if !b.hasName {
		name, ok, err := b.applier.JobName(b.cfg)
		if err != nil {
			return err
		}
		b.jobName, b.hasName = name, ok
		if ok {
			b.logger = b.tlog.WithJob(name).Zerolog()
		}
	}

	if err := b.checkPolicy(ctx, mode, exec, window, staged.Snapshot()); err != nil {
		return err
	}

	// Commit.
	span := trace.SpanFromContext(ctx)
	if window != nil {
		if err := d.applyRetention(*window); err != nil {
			return engine.NewConfigError(config.KeyMinStateRetention, err)
		}
		b.retention = window
		telemetry.AddEvent(span, EventRetentionCommitted,
			attribute.Int64("min_seconds", int64(window.Min/time.Second)),
			attribute.Int64("max_seconds", int64(window.Max/time.Second)))
	}
	target := d.passThroughTarget()
	b.settings = staged.Snapshot()
	for _, k := range staged.Keys() {
		v, _ := staged.Get(k)
		target.Set(k, v)
	}
	b.tel.Metrics.RecordPassThrough(string(b.family), len(b.settings))
	telemetry.AddEvent(span, EventSettingsCommitted, attribute.Int("settings", len(b.settings)))
	if b.hasName {
		exec.Settings().Set(engine.SettingJobName, b.jobName)
	}
	b.exec = exec

	return nil
}

func (b *base) checkPolicy(ctx context.Context, mode engine.JobMode, exec *engine.ExecutionContext,
	window *engine.RetentionWindow, settings map[string]string) error {
	if b.policy == nil {
		return nil
	}

	input := &policy.Input{
		JobName:              b.jobName,
		Mode:                 mode.String(),
		Family:               string(b.family),
		Parallelism:          exec.Parallelism(),
		CheckpointIntervalMs: exec.CheckpointInterval().Milliseconds(),
		PassThrough:          settings,
		Context: &policy.Context{
			Operation: "prepare",
			Source:    b.cfg.Origin(),
			Timestamp: time.Now(),
		},
	}
	if window != nil {
		input.Retention = &policy.RetentionInput{
			MinSeconds: int64(window.Min / time.Second),
			MaxSeconds: int64(window.Max / time.Second),
		}
	}

	result, err := b.policy.Evaluate(ctx, input)
	if err != nil {
		return engine.NewTransientError("settings policy evaluation failed", err).
			WithStage(engine.StageTuning)
	}

	b.violations = result.Violations
	for _, v := range result.Violations {
		b.tel.Metrics.RecordPolicyViolation(string(v.Severity))
		b.publish(func(ep *telemetry.EventPublisher) error {
			return ep.PublishPolicyViolation(b.id, v.Policy, v.Message, string(v.Severity))
		})
		event := b.logger.Warn()
		if v.Severity.Blocking() {
			event = b.logger.Error()
		}
		event.Str("policy", v.Policy).
			Str("key", v.Key).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
	}

	return result.Err()
}

func (b *base) fail(err error, dur time.Duration) {
	b.duration = dur
	b.tel.Metrics.RecordPrepare(string(b.family), StatusFailed, dur)
	b.tel.Metrics.RecordError(err)
	b.publish(func(ep *telemetry.EventPublisher) error {
		return ep.PublishEnvironmentFailed(b.id, b.jobName, err.Error())
	})
	b.logger.Error().Err(err).Msg("Runtime environment preparation failed")
}
