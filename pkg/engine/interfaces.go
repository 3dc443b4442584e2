package engine

import (
	"context"
	"time"
)

// ContextFactory builds engine contexts. Runtime environments call it at most
// once per stage and memoize the result.
type ContextFactory interface {
	// NewExecutionContext builds the base execution context (stage 1).
	NewExecutionContext(ctx context.Context, opts ExecutionOptions) (*ExecutionContext, error)

	// NewTableContext builds a table context bound to exec (stage 2, table family).
	NewTableContext(ctx context.Context, exec *ExecutionContext, settings EnvironmentSettings) (*TableContext, error)

	// NewSessionContext builds a SQL session bound to exec (stage 2, session family).
	// A streaming context is attached when exec runs in streaming mode.
	NewSessionContext(ctx context.Context, exec *ExecutionContext, batchDuration time.Duration) (*SessionContext, error)
}

// ExecutionOptions contains the resolved inputs of stage 1.
type ExecutionOptions struct {
	// Mode is the job mode. The zero value is treated as batch.
	Mode JobMode `json:"mode"`

	// Parallelism is the default operator parallelism. Zero selects DefaultParallelism.
	Parallelism int `json:"parallelism,omitempty"`

	// CheckpointInterval enables periodic checkpoints in streaming mode.
	CheckpointInterval time.Duration `json:"checkpoint_interval,omitempty"`
}

// Recorder receives one notification per successfully built context.
// Telemetry implements it; a nil Recorder is allowed.
type Recorder interface {
	ContextBuilt(stage string, family Family)
}
