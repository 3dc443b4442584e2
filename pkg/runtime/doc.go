// Package runtime prepares the engine environment a job runs in.
//
// A RuntimeEnvironment holds the job's configuration and job mode. Prepare
// builds the engine contexts in two stages through an engine.ContextFactory:
// an execution context first, then a context derived from it. The table
// family derives a table context, the session family a SQL session. Prepare
// then applies the configured tuning:
//
//   - the idle state retention window, only when both state.retention.min
//     and state.retention.max are set; each missing key logs one warning
//   - every leaf under the engine sub-tree, copied verbatim into the derived
//     context's configuration
//   - job.name, recorded as pipeline.name
//
// When a policy.Engine is configured, the effective settings are evaluated
// before they are committed, and blocking violations abort Prepare.
//
// Prepare only does work on its first call. Later calls return the first
// result, so a failed environment stays failed.
//
// Registry hands out a single environment per process:
//
//	registry := runtime.NewRegistry(runtime.BuilderFor(runtime.Options{
//	    Family:    engine.FamilyTable,
//	    Telemetry: tel,
//	    Policy:    policies,
//	}))
//
//	env, err := registry.Get(doc.Env)
//	if err != nil {
//	    return err
//	}
//	if err := env.SetJobMode(engine.JobModeStreaming).Prepare(ctx); err != nil {
//	    return err
//	}
package runtime
