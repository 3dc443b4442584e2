package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in settings policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		retentionWindowPolicy(),
		reservedSettingsPolicy(),
		checkpointIntervalPolicy(),
		maxParallelismPolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, rego string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
		Rego:        rego,
	}
}

// retentionWindowPolicy rejects inverted retention windows.
func retentionWindowPolicy() Policy {
	return builtin("retention-window",
		"Rejects idle state retention windows whose minimum exceeds the maximum",
		SeverityError, []string{"state"}, `package jobstarter.settings

import rego.v1

deny contains violation if {
	r := input.retention
	r.min_seconds > r.max_seconds
	violation := {
		"message": sprintf("state retention min %vs exceeds max %vs", [r.min_seconds, r.max_seconds]),
		"severity": "error",
		"key": "state.retention.min",
		"remediation": "set state.retention.min <= state.retention.max",
	}
}
`)
}

// reservedSettingsPolicy rejects pass-through keys owned by the runtime environment.
func reservedSettingsPolicy() Policy {
	return builtin("reserved-settings",
		"Rejects engine overrides of settings derived from the job mode",
		SeverityError, []string{"passthrough"}, `package jobstarter.settings

import rego.v1

reserved := {"execution.runtime-mode"}

deny contains violation if {
	some key, _ in input.passthrough
	key in reserved
	violation := {
		"message": sprintf("engine setting %s is derived from job.mode and cannot be overridden", [key]),
		"severity": "error",
		"key": concat(".", ["engine", key]),
		"remediation": "set job.mode instead",
	}
}
`)
}

// checkpointIntervalPolicy warns about aggressive checkpointing.
func checkpointIntervalPolicy() Policy {
	return builtin("checkpoint-interval",
		"Warns when streaming jobs checkpoint more often than once per second",
		SeverityWarning, []string{"streaming"}, `package jobstarter.settings

import rego.v1

deny contains violation if {
	input.mode == "STREAMING"
	input.checkpoint_interval_ms > 0
	input.checkpoint_interval_ms < 1000
	violation := {
		"message": sprintf("checkpoint interval %vms is below 1s", [input.checkpoint_interval_ms]),
		"severity": "warning",
		"key": "execution.checkpoint.interval",
	}
}
`)
}

// maxParallelismPolicy warns when the max parallelism override is below the default parallelism.
func maxParallelismPolicy() Policy {
	return builtin("max-parallelism",
		"Warns when pipeline.max-parallelism is lower than the default parallelism",
		SeverityWarning, []string{"passthrough"}, `package jobstarter.settings

import rego.v1

deny contains violation if {
	limit := to_number(input.passthrough["pipeline.max-parallelism"])
	limit < input.parallelism
	violation := {
		"message": sprintf("pipeline.max-parallelism %v is lower than parallelism %v", [limit, input.parallelism]),
		"severity": "warning",
		"key": "engine.pipeline.max-parallelism",
	}
}
`)
}
