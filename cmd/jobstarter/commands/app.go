package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jobstarter/jobstarter/pkg/config"
	"github.com/jobstarter/jobstarter/pkg/engine"
	"github.com/jobstarter/jobstarter/pkg/policy"
	"github.com/jobstarter/jobstarter/pkg/runtime"
	"github.com/jobstarter/jobstarter/pkg/stores"
	"github.com/jobstarter/jobstarter/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// app holds the collaborators a command run shares.
type app struct {
	settings *Settings
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	policies *policy.Engine
	jobs     *config.Loader
}

// setup loads settings and starts telemetry. The caller must call close.
func setup(ctx context.Context) (*app, error) {
	s, err := loadSettings(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(s))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a := &app{
		settings: s,
		tel:      tel,
		logger:   tel.Logger.NewComponentLogger("cli").Zerolog(),
		jobs:     config.NewLoader(),
	}
	if err := tel.StartMetricsServer(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	return a, nil
}

func telemetryConfig(s *Settings) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = s.Log.Level
	if verbose {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = s.Log.Format
	cfg.Logging.Output = s.Log.Output
	cfg.Tracing.Enabled = s.Trace.Exporter != "none"
	cfg.Tracing.Exporter = s.Trace.Exporter
	cfg.Tracing.Endpoint = s.Trace.Endpoint
	cfg.Metrics.ListenAddress = s.Metrics.Addr
	return cfg
}

// startOperation opens the span and logger of one command run on path.
func (a *app) startOperation(ctx context.Context, name, path string) *telemetry.InstrumentedContext {
	return telemetry.StartOperation(a.tel.WithContext(ctx), name, attribute.String("job.path", path))
}

// policyEngine builds the policy engine on first use, loading the configured
// user policies next to the built-in ones.
func (a *app) policyEngine(ctx context.Context) (*policy.Engine, error) {
	if a.policies != nil {
		return a.policies, nil
	}

	pe, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if len(a.settings.Policy.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, a.settings.Policy.Paths); err != nil {
			return nil, err
		}
	}
	a.policies = pe
	return pe, nil
}

// runtimeOptions resolves the per-run flags into environment options.
// Flags win over settings.
func (a *app) runtimeOptions(ctx context.Context, mode, family, jobName string) (runtime.Options, error) {
	opts := runtime.Options{
		JobName:   jobName,
		Telemetry: a.tel,
		Logger:    &a.logger,
	}

	if mode != "" {
		m, err := engine.ParseJobMode(mode)
		if err != nil {
			return opts, err
		}
		opts.JobMode = m
	}

	if family == "" {
		family = a.settings.Engine.Family
	}
	f, err := engine.ParseFamily(family)
	if err != nil {
		return opts, err
	}
	opts.Family = f

	policies, err := a.policyEngine(ctx)
	if err != nil {
		return opts, err
	}
	opts.Policy = policies
	return opts, nil
}

// openStore opens and migrates the history database.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	path := a.settings.Store.Path
	if path != stores.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// record writes an environment summary to the history database.
func (a *app) record(ctx context.Context, summary runtime.Summary) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	env, warnings := stores.FromSummary(summary)
	env.RecordedAt = time.Now()
	if err := store.RecordEnvironment(ctx, env, warnings); err != nil {
		return err
	}

	a.logger.Debug().
		Str("environment_id", env.ID).
		Str("store", a.settings.Store.Path).
		Int("warnings", len(warnings)).
		Msg("Environment recorded")
	return nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
		return
	}
	a.logger.Debug().Msg("Telemetry stopped")
}
