package commands

import (
	"context"
	"errors"

	"github.com/jobstarter/jobstarter/pkg/config"
	"github.com/jobstarter/jobstarter/pkg/engine"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInvalidJob  = 2
	ExitPolicy      = 3
	ExitTransient   = 4
	ExitInterrupted = 130
)

// ExitCode maps a command error to the process exit code. Scripts can tell a
// broken job document from a policy rejection and from a failure worth
// retrying.
func ExitCode(err error) int {
	var loadErr *config.LoadError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &loadErr):
		return ExitInvalidJob
	}

	switch engine.CodeOf(err) {
	case engine.ErrCodePolicyViolation:
		return ExitPolicy
	case engine.ErrCodeConfigInvalid, engine.ErrCodeConfigMissing:
		return ExitInvalidJob
	}
	if engine.IsTransient(err) {
		return ExitTransient
	}
	return ExitFailure
}
