package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// EnvironmentStatus mirrors the runtime environment status.
type EnvironmentStatus string

const (
	EnvironmentStatusPending  EnvironmentStatus = "pending"
	EnvironmentStatusPrepared EnvironmentStatus = "prepared"
	EnvironmentStatusFailed   EnvironmentStatus = "failed"
)

// WarningKind distinguishes missing configuration keys from policy findings.
type WarningKind string

const (
	WarningKindMissingKey WarningKind = "missing_key"
	WarningKindPolicy     WarningKind = "policy"
)

// Environment is the recorded outcome of preparing a runtime environment.
type Environment struct {
	ID                  string            `json:"id"`
	JobName             string            `json:"job_name,omitempty"`
	Mode                string            `json:"mode"`
	Family              string            `json:"family"`
	SourcePath          string            `json:"source_path,omitempty"`
	Settings            map[string]string `json:"settings,omitempty"`
	RetentionMinSeconds *int64            `json:"retention_min_seconds,omitempty"`
	RetentionMaxSeconds *int64            `json:"retention_max_seconds,omitempty"`
	Status              EnvironmentStatus `json:"status"`
	Error               *string           `json:"error,omitempty"`
	DurationMs          int64             `json:"duration_ms"`
	CreatedAt           time.Time         `json:"created_at"`
	PreparedAt          *time.Time        `json:"prepared_at,omitempty"`
	RecordedAt          time.Time         `json:"recorded_at"`
}

// Warning is a non-fatal finding raised while preparing an environment.
type Warning struct {
	ID            int64       `json:"id"`
	EnvironmentID string      `json:"environment_id"`
	Kind          WarningKind `json:"kind"`
	Key           string      `json:"key,omitempty"`
	Message       string      `json:"message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// EnvironmentFilter narrows ListEnvironments. Zero fields match everything.
type EnvironmentFilter struct {
	JobName string
	Family  string
	Status  EnvironmentStatus
	Limit   int
	Offset  int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Environment operations
	RecordEnvironment(ctx context.Context, env *Environment, warnings []Warning) error
	GetEnvironment(ctx context.Context, id string) (*Environment, error)
	ListEnvironments(ctx context.Context, filter EnvironmentFilter) ([]*Environment, error)
	DeleteEnvironment(ctx context.Context, id string) error

	// Warning operations
	AddWarning(ctx context.Context, warning *Warning) error
	ListWarnings(ctx context.Context, environmentID string) ([]*Warning, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
