package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Keys the factory writes into an execution context's own settings.
const (
	SettingRuntimeMode        = "execution.runtime-mode"
	SettingParallelism        = "parallelism.default"
	SettingCheckpointInterval = "execution.checkpointing.interval"
	SettingJobName            = "pipeline.name"
)

// DefaultParallelism is used when the configuration does not set one.
const DefaultParallelism = 1

// ExecutionContext is the base handle binding a job to the engine runtime.
// It is built once per runtime environment and never replaced.
type ExecutionContext struct {
	id                 string
	mode               JobMode
	parallelism        int
	checkpointInterval time.Duration
	settings           *Settings
	createdAt          time.Time
}

// ID returns the unique identifier of this context.
func (e *ExecutionContext) ID() string { return e.id }

// Mode returns the job mode the context was built for.
func (e *ExecutionContext) Mode() JobMode { return e.mode }

// Parallelism returns the default operator parallelism.
func (e *ExecutionContext) Parallelism() int { return e.parallelism }

// CheckpointInterval returns the checkpoint interval, zero when disabled.
func (e *ExecutionContext) CheckpointInterval() time.Duration { return e.checkpointInterval }

// Settings returns the execution-level settings object.
func (e *ExecutionContext) Settings() *Settings { return e.settings }

// CreatedAt returns the construction time.
func (e *ExecutionContext) CreatedAt() time.Time { return e.createdAt }

// EnvironmentSettings selects the execution semantics of a derived context.
type EnvironmentSettings struct {
	streaming bool
}

// IsStreamingMode reports whether streaming semantics are enabled.
func (s EnvironmentSettings) IsStreamingMode() bool { return s.streaming }

// EnvironmentSettingsBuilder builds EnvironmentSettings. Batch is the default.
type EnvironmentSettingsBuilder struct {
	streaming bool
}

// NewEnvironmentSettings starts building derived-context settings.
func NewEnvironmentSettings() *EnvironmentSettingsBuilder {
	return &EnvironmentSettingsBuilder{}
}

// InStreamingMode enables streaming semantics.
func (b *EnvironmentSettingsBuilder) InStreamingMode() *EnvironmentSettingsBuilder {
	b.streaming = true
	return b
}

// InBatchMode disables streaming semantics.
func (b *EnvironmentSettingsBuilder) InBatchMode() *EnvironmentSettingsBuilder {
	b.streaming = false
	return b
}

// Build returns the settings.
func (b *EnvironmentSettingsBuilder) Build() EnvironmentSettings {
	return EnvironmentSettings{streaming: b.streaming}
}

// TableConfig holds the structured tuning of a table context. The pass-through
// Configuration is a separate object from the structured fields.
type TableConfig struct {
	mu            sync.RWMutex
	retention     RetentionWindow
	configuration *Settings
}

// ErrInvalidRetention is returned when a retention window is negative or inverted.
var ErrInvalidRetention = errors.New("invalid state retention window")

// SetIdleStateRetention sets the idle state retention window.
func (c *TableConfig) SetIdleStateRetention(min, max time.Duration) error {
	if min < 0 || max < 0 {
		return fmt.Errorf("%w: bounds must not be negative (min=%s, max=%s)", ErrInvalidRetention, min, max)
	}
	if min > max {
		return fmt.Errorf("%w: min %s exceeds max %s", ErrInvalidRetention, min, max)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.retention = RetentionWindow{Min: min, Max: max}
	return nil
}

// IdleStateRetention returns the configured window; the zero window means unset.
func (c *TableConfig) IdleStateRetention() RetentionWindow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retention
}

// Configuration returns the engine configuration object that receives
// pass-through settings.
func (c *TableConfig) Configuration() *Settings {
	return c.configuration
}

// TableContext is the declarative context layered on an ExecutionContext.
type TableContext struct {
	exec     *ExecutionContext
	settings EnvironmentSettings
	config   *TableConfig
}

// Execution returns the execution context this table context is bound to.
func (t *TableContext) Execution() *ExecutionContext { return t.exec }

// EnvironmentSettings returns the settings the context was created with.
func (t *TableContext) EnvironmentSettings() EnvironmentSettings { return t.settings }

// IsStreaming reports whether streaming semantics are enabled.
func (t *TableContext) IsStreaming() bool { return t.settings.IsStreamingMode() }

// Config returns the table configuration.
func (t *TableContext) Config() *TableConfig { return t.config }

// StreamingContext drives micro-batch execution for the session family.
type StreamingContext struct {
	batchDuration time.Duration
}

// BatchDuration returns the micro-batch interval.
func (s *StreamingContext) BatchDuration() time.Duration { return s.batchDuration }

// SessionContext is the SQL session layered on an ExecutionContext.
type SessionContext struct {
	exec      *ExecutionContext
	conf      *Settings
	streaming *StreamingContext
}

// Execution returns the execution context this session is bound to.
func (s *SessionContext) Execution() *ExecutionContext { return s.exec }

// Conf returns the session configuration object that receives pass-through settings.
func (s *SessionContext) Conf() *Settings { return s.conf }

// Streaming returns the micro-batch context, nil in batch mode.
func (s *SessionContext) Streaming() *StreamingContext { return s.streaming }

// IsStreaming reports whether a streaming context was created.
func (s *SessionContext) IsStreaming() bool { return s.streaming != nil }

func newExecutionContext(mode JobMode, parallelism int, checkpoint time.Duration) *ExecutionContext {
	settings := NewSettings()
	settings.Set(SettingRuntimeMode, mode.String())
	settings.Set(SettingParallelism, fmt.Sprintf("%d", parallelism))
	if checkpoint > 0 {
		settings.Set(SettingCheckpointInterval, fmt.Sprintf("%d ms", checkpoint.Milliseconds()))
	}

	return &ExecutionContext{
		id:                 uuid.New().String(),
		mode:               mode,
		parallelism:        parallelism,
		checkpointInterval: checkpoint,
		settings:           settings,
		createdAt:          time.Now(),
	}
}
