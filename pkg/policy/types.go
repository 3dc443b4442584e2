package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for settings that should be reviewed but may be committed.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the settings from being committed.
	SeverityError Severity = "error"

	// SeverityCritical blocks the settings from being committed.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity aborts preparation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are read from the
	// deny set of the module's package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the binary.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Key is the configuration path the violation refers to, if any.
	Key string `json:"key,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Errors lists policies that failed to evaluate. They do not block.
	Errors []string `json:"errors,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policies were evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies are evaluated against: the effective engine
// settings an environment is about to commit.
type Input struct {
	// JobName is the configured job name, empty when unset.
	JobName string `json:"job_name,omitempty"`

	// Mode is BATCH or STREAMING.
	Mode string `json:"mode"`

	// Family is the engine family (table, session).
	Family string `json:"family"`

	// Parallelism is the resolved default parallelism.
	Parallelism int `json:"parallelism"`

	// CheckpointIntervalMs is the checkpoint interval, zero when disabled.
	CheckpointIntervalMs int64 `json:"checkpoint_interval_ms"`

	// Retention is the idle state retention window, nil when not applied.
	Retention *RetentionInput `json:"retention,omitempty"`

	// PassThrough holds the flattened engine override sub-tree.
	PassThrough map[string]string `json:"passthrough"`

	// Context provides additional evaluation context.
	Context *Context `json:"context,omitempty"`
}

// RetentionInput is the retention window in seconds.
type RetentionInput struct {
	MinSeconds int64 `json:"min_seconds"`
	MaxSeconds int64 `json:"max_seconds"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Operation is "prepare" or "validate".
	Operation string `json:"operation"`

	// Source is the job document the settings came from.
	Source string `json:"source,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// Bundle represents a collection of related policies.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`
}
