// Package telemetry provides observability for runtime environment bootstrapping.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and event publishing.
//
// # Usage
//
// Initialize telemetry at process start:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("telemetry")
//	}
//	defer tel.Shutdown(context.Background())
//
// Pass tel to runtime.Options. Components that only need one concern take the
// narrower type: Metrics implements both engine.Recorder and
// config.WarningRecorder.
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("cli").WithEnvironment(id, "table").WithJob("orders")
//	logger.Zerolog().Info().Msg("Environment prepared")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Every Prepare call runs inside a "runtime.prepare" span carrying the
// environment id, family and job mode. Exporters: "stdout", "otlp" (gRPC) and
// "none".
//
// # Metrics
//
// Key metrics exposed:
//
//   - jobstarter_environments_constructed_total{family}
//   - jobstarter_environment_prepares_total{family,status}
//   - jobstarter_environment_prepare_duration_seconds{family}
//   - jobstarter_engine_contexts_built_total{stage,family}
//   - jobstarter_config_keys_missing_total{key}
//   - jobstarter_config_passthrough_keys_total{family}
//   - jobstarter_errors_total{class,code}
//   - jobstarter_policy_violations_total{severity}
//
// # Events
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Event types: environment.created, environment.prepared, environment.failed,
// config.key_missing, policy.violation.
//
// Shut telemetry down before exit so buffered events are delivered and
// pending spans exported.
package telemetry
