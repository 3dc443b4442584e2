package runtime

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jobstarter/jobstarter/pkg/config"
	"github.com/jobstarter/jobstarter/pkg/engine"
	"github.com/jobstarter/jobstarter/pkg/policy"
	"github.com/jobstarter/jobstarter/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Options assembles everything an environment needs before it is constructed.
type Options struct {
	// Config is the job's env block.
	Config *config.Source `validate:"required"`

	// JobMode selects batch or streaming semantics. When empty, job.mode
	// from Config is used, and BATCH when that is absent too.
	JobMode engine.JobMode `validate:"omitempty,oneof=BATCH STREAMING"`

	// JobName overrides job.name from Config.
	JobName string `validate:"omitempty,max=256"`

	// Family selects the environment variant. Empty means table.
	Family engine.Family `validate:"omitempty,oneof=table session"`

	// Factory builds the engine contexts. Defaults to an engine.DefaultFactory
	// reporting to the telemetry metrics.
	Factory engine.ContextFactory

	// Logger receives environment logs, including missing-key warnings.
	// Defaults to the telemetry logger.
	Logger *zerolog.Logger

	// Telemetry defaults to telemetry.NewNop().
	Telemetry *telemetry.Telemetry

	// Policy, when set, guards the effective settings before they are committed.
	Policy *policy.Engine
}

var validate = validator.New()

// withDefaults validates o and fills in the optional collaborators.
func (o Options) withDefaults() (Options, error) {
	if err := validate.Struct(o); err != nil {
		return o, engine.NewPermanentError("invalid runtime options", err).
			WithCode(engine.ErrCodeConfigInvalid)
	}

	if o.Family == "" {
		o.Family = engine.FamilyTable
	}
	o.Telemetry = completeTelemetry(o.Telemetry)
	if o.Logger == nil {
		zlog := o.Telemetry.Logger.Zerolog()
		o.Logger = &zlog
	}
	if o.Factory == nil {
		o.Factory = engine.NewDefaultFactory(o.Telemetry.Metrics)
	}
	return o, nil
}

// completeTelemetry fills the components tel leaves nil with no-op ones.
func completeTelemetry(tel *telemetry.Telemetry) *telemetry.Telemetry {
	nop := telemetry.NewNop()
	if tel == nil {
		return nop
	}

	out := *tel
	if out.Logger == nil {
		out.Logger = nop.Logger
	}
	if out.Tracer == nil {
		out.Tracer = nop.Tracer
	}
	if out.Metrics == nil {
		out.Metrics = nop.Metrics
	}
	if out.Events == nil {
		out.Events = nop.Events
	}
	if out.Config == nil {
		out.Config = nop.Config
	}
	return &out
}

// New constructs the environment variant selected by opts.Family.
func New(opts Options) (RuntimeEnvironment, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	switch opts.Family {
	case engine.FamilyTable:
		return newTableEnvironment(opts), nil
	case engine.FamilySession:
		return newSessionEnvironment(opts), nil
	default:
		return nil, fmt.Errorf("unsupported engine family %q", opts.Family)
	}
}
