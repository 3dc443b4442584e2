package runtime

import (
	"context"

	"github.com/jobstarter/jobstarter/pkg/config"
	"github.com/jobstarter/jobstarter/pkg/engine"
)

// SessionEnvironment builds an execution context with a SQL session layered
// on it, plus a micro-batch streaming context in STREAMING mode. Sessions have
// no idle state retention, so the retention keys are not read.
type SessionEnvironment struct {
	*base
	session *engine.SessionContext
}

var _ RuntimeEnvironment = (*SessionEnvironment)(nil)

func newSessionEnvironment(opts Options) *SessionEnvironment {
	return &SessionEnvironment{base: newBase(opts)}
}

// SetConfig implements RuntimeEnvironment.
func (s *SessionEnvironment) SetConfig(src *config.Source) RuntimeEnvironment {
	s.setConfig(src)
	return s
}

// SetJobMode implements RuntimeEnvironment.
func (s *SessionEnvironment) SetJobMode(mode engine.JobMode) RuntimeEnvironment {
	s.setJobMode(mode)
	return s
}

// Prepare implements RuntimeEnvironment.
func (s *SessionEnvironment) Prepare(ctx context.Context) error {
	return s.prepare(ctx, s)
}

// SessionContext returns the derived session context, or ErrNotPrepared.
func (s *SessionEnvironment) SessionContext() (*engine.SessionContext, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.session, nil
}

func (s *SessionEnvironment) derive(ctx context.Context, exec *engine.ExecutionContext, mode engine.JobMode) error {
	batch := engine.DefaultBatchDuration
	if mode.IsStreaming() {
		d, err := s.applier.BatchDuration(s.cfg)
		if err != nil {
			return err
		}
		if d > 0 {
			batch = d
		}
	}

	session, err := s.factory.NewSessionContext(ctx, exec, batch)
	if err != nil {
		return err
	}
	s.session = session
	return nil
}

func (s *SessionEnvironment) appliesRetention() bool { return false }

func (s *SessionEnvironment) applyRetention(engine.RetentionWindow) error { return nil }

func (s *SessionEnvironment) passThroughTarget() *engine.Settings {
	return s.session.Conf()
}
