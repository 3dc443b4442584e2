package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a bootstrap failure.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed when the
	// job process is restarted. Examples: the engine endpoint refusing connections.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a failure that no restart will fix.
	// Examples: malformed configuration, a policy rejecting the engine settings.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified bootstrap error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Key is the configuration path that caused the error, if applicable.
	Key string `json:"key,omitempty"`

	// Stage is the construction stage being performed when the error occurred.
	Stage string `json:"stage,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Key != "" && e.Stage != "" {
		return fmt.Sprintf("[%s] %s (key=%s, stage=%s): %s",
			e.Class, e.Message, e.Key, e.Stage, e.unwrapMessage())
	}
	if e.Key != "" {
		return fmt.Sprintf("[%s] %s (key=%s): %s",
			e.Class, e.Message, e.Key, e.unwrapMessage())
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s (stage=%s): %s",
			e.Class, e.Message, e.Stage, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewConfigError creates a permanent error for an invalid configuration value.
func NewConfigError(key string, err error) *EngineError {
	return NewPermanentError("invalid configuration", err).
		WithKey(key).
		WithCode(ErrCodeConfigInvalid)
}

// NewMissingKeyError creates a permanent error for a required key that is absent.
func NewMissingKeyError(key string) *EngineError {
	return NewPermanentError("missing required configuration key", nil).
		WithKey(key).
		WithCode(ErrCodeConfigMissing)
}

// NewConstructionError wraps a failure raised while building an engine context.
func NewConstructionError(stage string, err error) *EngineError {
	return NewPermanentError("engine context construction failed", err).
		WithStage(stage).
		WithCode(ErrCodeConstruction)
}

// WithKey adds configuration key context to an error.
func (e *EngineError) WithKey(key string) *EngineError {
	e.Key = key
	return e
}

// WithStage adds construction stage context to an error.
func (e *EngineError) WithStage(stage string) *EngineError {
	e.Stage = stage
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// CodeOf returns the error code of the first EngineError in the chain.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeConfigInvalid   = "CONFIG_INVALID"
	ErrCodeConfigMissing   = "CONFIG_MISSING"
	ErrCodeConstruction    = "ENGINE_CONSTRUCTION"
	ErrCodePolicyViolation = "POLICY_VIOLATION"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// Construction stages.
const (
	StageExecution = "execution"
	StageDerived   = "derived"
	StageTuning    = "tuning"
)
