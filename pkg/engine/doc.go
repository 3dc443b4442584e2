// Package engine models the processing engine that jobstarter configures.
//
// # Overview
//
// The engine itself (scheduler, operator graph, state backend) lives outside this
// repository. This package holds the handles a job process binds to it and records
// exactly what the bootstrap layer configured on them:
//
//   - ExecutionContext: the base binding to the engine runtime (stage 1)
//   - TableContext: a declarative table context layered on an execution context
//   - SessionContext: a SQL session layered on an execution context, with a
//     micro-batch StreamingContext in streaming mode
//   - Settings: the engine's string-keyed configuration object
//   - TableConfig: structured table tuning (idle state retention) kept apart from
//     the pass-through Configuration
//
// # Construction
//
// Contexts are built through a ContextFactory. DefaultFactory validates its inputs,
// stamps each execution context with a UUID and counts constructions so callers can
// verify memoization:
//
//	f := engine.NewDefaultFactory(nil)
//	exec, err := f.NewExecutionContext(ctx, engine.ExecutionOptions{Mode: engine.JobModeStreaming})
//	if err != nil {
//	    return err
//	}
//	table, err := f.NewTableContext(ctx, exec, engine.NewEnvironmentSettings().InStreamingMode().Build())
//
// # Errors
//
// Every construction failure is an *EngineError. Configuration and construction
// failures are ErrorClassPermanent; a cancelled context yields ErrorClassTransient.
// Nothing in this package retries.
package engine
