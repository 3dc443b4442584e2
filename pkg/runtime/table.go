package runtime

import (
	"context"

	"github.com/jobstarter/jobstarter/pkg/config"
	"github.com/jobstarter/jobstarter/pkg/engine"
)

// TableEnvironment builds a stream execution context with a table context
// layered on it. It applies the idle state retention window and passes the
// engine override sub-tree through to the table configuration.
type TableEnvironment struct {
	*base
	table *engine.TableContext
}

var _ RuntimeEnvironment = (*TableEnvironment)(nil)

func newTableEnvironment(opts Options) *TableEnvironment {
	return &TableEnvironment{base: newBase(opts)}
}

// SetConfig implements RuntimeEnvironment.
func (t *TableEnvironment) SetConfig(src *config.Source) RuntimeEnvironment {
	t.setConfig(src)
	return t
}

// SetJobMode implements RuntimeEnvironment.
func (t *TableEnvironment) SetJobMode(mode engine.JobMode) RuntimeEnvironment {
	t.setJobMode(mode)
	return t
}

// Prepare implements RuntimeEnvironment.
func (t *TableEnvironment) Prepare(ctx context.Context) error {
	return t.prepare(ctx, t)
}

// TableContext returns the derived table context, or ErrNotPrepared.
func (t *TableEnvironment) TableContext() (*engine.TableContext, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	return t.table, nil
}

func (t *TableEnvironment) derive(ctx context.Context, exec *engine.ExecutionContext, mode engine.JobMode) error {
	builder := engine.NewEnvironmentSettings().InBatchMode()
	if mode.IsStreaming() {
		builder = builder.InStreamingMode()
	}

	table, err := t.factory.NewTableContext(ctx, exec, builder.Build())
	if err != nil {
		return err
	}
	t.table = table
	return nil
}

func (t *TableEnvironment) appliesRetention() bool { return true }

func (t *TableEnvironment) applyRetention(w engine.RetentionWindow) error {
	return t.table.Config().SetIdleStateRetention(w.Min, w.Max)
}

func (t *TableEnvironment) passThroughTarget() *engine.Settings {
	return t.table.Config().Configuration()
}
