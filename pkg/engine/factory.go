package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultBatchDuration is the micro-batch interval used when none is configured.
const DefaultBatchDuration = 5 * time.Second

// DefaultFactory is the in-process ContextFactory. It validates its inputs the
// way the engine would and keeps construction counters.
type DefaultFactory struct {
	recorder Recorder

	executions atomic.Int64
	tables     atomic.Int64
	sessions   atomic.Int64
}

// NewDefaultFactory creates a factory. recorder may be nil.
func NewDefaultFactory(recorder Recorder) *DefaultFactory {
	return &DefaultFactory{recorder: recorder}
}

// NewExecutionContext implements ContextFactory.
func (f *DefaultFactory) NewExecutionContext(ctx context.Context, opts ExecutionOptions) (*ExecutionContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewTransientError("execution context construction aborted", err).WithStage(StageExecution)
	}

	parallelism := opts.Parallelism
	if parallelism == 0 {
		parallelism = DefaultParallelism
	}
	if parallelism < 0 {
		return nil, NewConstructionError(StageExecution,
			fmt.Errorf("parallelism must be positive, got %d", parallelism))
	}
	if opts.CheckpointInterval < 0 {
		return nil, NewConstructionError(StageExecution,
			fmt.Errorf("checkpoint interval must not be negative, got %s", opts.CheckpointInterval))
	}

	mode := opts.Mode
	if mode == "" {
		mode = JobModeBatch
	}

	checkpoint := opts.CheckpointInterval
	if !mode.IsStreaming() {
		checkpoint = 0
	}

	exec := newExecutionContext(mode, parallelism, checkpoint)
	f.executions.Add(1)
	f.record(StageExecution, "")
	return exec, nil
}

// NewTableContext implements ContextFactory.
func (f *DefaultFactory) NewTableContext(ctx context.Context, exec *ExecutionContext, settings EnvironmentSettings) (*TableContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewTransientError("table context construction aborted", err).WithStage(StageDerived)
	}
	if exec == nil {
		return nil, NewConstructionError(StageDerived, fmt.Errorf("execution context is required"))
	}

	table := &TableContext{
		exec:     exec,
		settings: settings,
		config:   &TableConfig{configuration: NewSettings()},
	}
	f.tables.Add(1)
	f.record(StageDerived, FamilyTable)
	return table, nil
}

// NewSessionContext implements ContextFactory.
func (f *DefaultFactory) NewSessionContext(ctx context.Context, exec *ExecutionContext, batchDuration time.Duration) (*SessionContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewTransientError("session context construction aborted", err).WithStage(StageDerived)
	}
	if exec == nil {
		return nil, NewConstructionError(StageDerived, fmt.Errorf("execution context is required"))
	}
	if batchDuration < 0 {
		return nil, NewConstructionError(StageDerived,
			fmt.Errorf("batch duration must not be negative, got %s", batchDuration))
	}

	session := &SessionContext{
		exec: exec,
		conf: NewSettings(),
	}
	if exec.Mode().IsStreaming() {
		if batchDuration == 0 {
			batchDuration = DefaultBatchDuration
		}
		session.streaming = &StreamingContext{batchDuration: batchDuration}
	}
	f.sessions.Add(1)
	f.record(StageDerived, FamilySession)
	return session, nil
}

// ExecutionContextsBuilt returns how many execution contexts this factory built.
func (f *DefaultFactory) ExecutionContextsBuilt() int64 { return f.executions.Load() }

// TableContextsBuilt returns how many table contexts this factory built.
func (f *DefaultFactory) TableContextsBuilt() int64 { return f.tables.Load() }

// SessionContextsBuilt returns how many session contexts this factory built.
func (f *DefaultFactory) SessionContextsBuilt() int64 { return f.sessions.Load() }

func (f *DefaultFactory) record(stage string, family Family) {
	if f.recorder != nil {
		f.recorder.ContextBuilt(stage, family)
	}
}
