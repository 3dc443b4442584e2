package runtime

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jobstarter/jobstarter/pkg/config"
	"github.com/rs/zerolog"
)

// ErrConstructionFailed is returned by Get when the builder panicked or
// returned neither an environment nor an error.
var ErrConstructionFailed = errors.New("runtime environment construction failed")

// Builder constructs the environment a Registry hands out.
type Builder func(src *config.Source) (RuntimeEnvironment, error)

// BuilderFor returns a Builder that calls New with opts and the given source.
func BuilderFor(opts Options) Builder {
	return func(src *config.Source) (RuntimeEnvironment, error) {
		o := opts
		o.Config = src
		return New(o)
	}
}

// Registry lazily constructs exactly one RuntimeEnvironment per process.
//
// The first Get binds the environment to its source. Later calls return the
// same instance and ignore their argument, even when it differs; use
// SetConfig on the returned environment to reconfigure it before Prepare.
type Registry struct {
	builder Builder
	logger  zerolog.Logger

	once          sync.Once
	env           RuntimeEnvironment
	err           error
	bound         *config.Source
	constructions atomic.Int64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used to report ignored sources.
func WithRegistryLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(builder Builder, opts ...RegistryOption) *Registry {
	r := &Registry{
		builder: builder,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "runtime-registry").Logger()
	return r
}

// Get returns the process-wide environment, constructing it on the first
// call. A construction failure is returned to every caller.
func (r *Registry) Get(src *config.Source) (RuntimeEnvironment, error) {
	r.once.Do(func() {
		r.constructions.Add(1)
		r.bound = src
		r.env, r.err = r.build(src)
	})

	if r.err != nil {
		return nil, r.err
	}
	if src != r.bound {
		r.logger.Debug().
			Str("environment_id", r.env.ID()).
			Msg("Runtime environment already constructed; ignoring configuration")
	}
	return r.env, nil
}

func (r *Registry) build(src *config.Source) (env RuntimeEnvironment, err error) {
	defer func() {
		if p := recover(); p != nil {
			env, err = nil, fmt.Errorf("%w: panic: %v", ErrConstructionFailed, p)
		}
	}()

	env, err = r.builder(src)
	if err == nil && env == nil {
		err = fmt.Errorf("%w: builder returned no environment", ErrConstructionFailed)
	}
	return env, err
}

// Constructions returns how many times the builder ran. It is at most one.
func (r *Registry) Constructions() int64 {
	return r.constructions.Load()
}
