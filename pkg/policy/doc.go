// Package policy evaluates engine settings against Open Policy Agent (OPA)
// policies before a runtime environment commits them.
//
// Every policy is a Rego module whose package defines a deny set. Each deny
// entry is either a string message or an object with message, severity, key
// and remediation fields. Violations of severity error or critical make the
// result disallowed; the runtime environment then aborts preparation with a
// POLICY_VIOLATION error.
//
// # Built-in Policies
//
//   - retention-window: min retention must not exceed max retention
//   - reserved-settings: execution.runtime-mode cannot be overridden
//   - checkpoint-interval: warns on sub-second streaming checkpoints
//   - max-parallelism: warns when pipeline.max-parallelism is below parallelism
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//
//	result, err := eng.Evaluate(ctx, &policy.Input{
//	    Mode:        "STREAMING",
//	    Family:      "table",
//	    Parallelism: 4,
//	    PassThrough: map[string]string{"pipeline.max-parallelism": "128"},
//	})
//	if err != nil {
//	    return err
//	}
//	if err := result.Err(); err != nil {
//	    return err
//	}
//
// # Custom Policies
//
// Custom .rego files are loaded from files or directories. A leading comment
// block becomes the description, and a "# severity: <level>" line sets the
// default severity:
//
//	# Streaming jobs must be named.
//	# severity: error
//	package acme.naming
//
//	import rego.v1
//
//	deny contains "job.name is required" if {
//	    input.mode == "STREAMING"
//	    not input.job_name
//	}
//
// Loader.Watch reloads the files on change, and Engine.ReplaceUserPolicies
// swaps them in atomically while keeping the built-in policies.
package policy
