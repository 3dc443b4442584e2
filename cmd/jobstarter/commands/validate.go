package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jobstarter/jobstarter/pkg/config"
	"github.com/jobstarter/jobstarter/pkg/policy"
	"github.com/jobstarter/jobstarter/pkg/runtime"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var (
		mode   string
		family string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "validate <job-file>",
		Short: "Validate a job document and its effective settings",
		Long: `Validate a job document and its effective settings.

This command checks:
  - document syntax (CUE, YAML, JSON, TOML or Starlark)
  - schema conformance of the env block
  - the retention window and engine overrides, by preparing a throwaway
    environment that is never recorded
  - settings policies (OPA/rego), built-in and user supplied

With --watch the job file and the policy paths are watched and the document
is validated again after every change.`,
		Example: `  # Validate a job file
  jobstarter validate job.yaml

  # Validate in streaming mode and keep watching for changes
  jobstarter validate --mode streaming --watch job.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			path := args[0]
			out := cmd.OutOrStdout()
			err = a.validate(ctx, out, path, mode, family)
			if !watch {
				return err
			}
			if err != nil {
				a.logger.Error().Err(err).Str("path", path).Msg("Validation failed")
			}
			return a.watchAndValidate(ctx, out, path, mode, family)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "job mode: batch or streaming (default: job.mode, then batch)")
	cmd.Flags().StringVar(&family, "family", "", "engine family: table or session (default: engine.family setting)")
	cmd.Flags().BoolVar(&watch, "watch", false, "validate again whenever the job file or a policy changes")

	return cmd
}

// validate loads path and dry-runs Prepare on a fresh environment.
func (a *app) validate(ctx context.Context, out io.Writer, path, mode, family string) (err error) {
	op := a.startOperation(ctx, "cli.validate", path)
	defer func() { op.End(err) }()
	ctx = op.Ctx

	doc, err := a.jobs.LoadJobFile(ctx, path)
	if err != nil {
		var loadErr *config.LoadError
		if errors.As(err, &loadErr) && !jsonOutput {
			fmt.Fprintf(out, "%s: invalid\n", path)
			for _, ve := range loadErr.Errors {
				fmt.Fprintf(out, "  %s\n", ve)
			}
		}
		return err
	}

	opts, err := a.runtimeOptions(ctx, mode, family, "")
	if err != nil {
		return err
	}
	opts.Config = doc.Env

	env, err := runtime.New(opts)
	if err != nil {
		return err
	}
	prepareErr := env.Prepare(ctx)

	if jsonOutput {
		if err := writeJSON(out, env.Summary()); err != nil {
			return err
		}
		return prepareErr
	}

	summary := env.Summary()
	if prepareErr != nil {
		fmt.Fprintf(out, "%s: invalid: %v\n", path, prepareErr)
	} else {
		fmt.Fprintf(out, "%s: valid (%s, %s)\n", path, summary.Mode, summary.Family)
	}
	for _, key := range summary.Warnings {
		fmt.Fprintf(out, "  missing: %s\n", key)
	}
	for _, v := range summary.Violations {
		fmt.Fprintf(out, "  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
	}
	return prepareErr
}

// watchAndValidate revalidates path on job file and policy changes until ctx is done.
func (a *app) watchAndValidate(ctx context.Context, out io.Writer, path, mode, family string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	revalidate := make(chan struct{}, 1)
	trigger := func() {
		select {
		case revalidate <- struct{}{}:
		default:
		}
	}

	if paths := a.settings.Policy.Paths; len(paths) > 0 {
		pe, err := a.policyEngine(ctx)
		if err != nil {
			return err
		}
		loader := policy.NewLoader(a.logger)
		err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
			if err := pe.ReplaceUserPolicies(ctx, policies); err != nil {
				return err
			}
			trigger()
			return nil
		})
		if err != nil {
			return err
		}
		defer loader.StopWatching()
	}

	a.logger.Info().Str("path", path).Msg("Watching for changes")

	target := filepath.Clean(path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(policy.ReloadDebounce, trigger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Error().Err(err).Msg("Watcher error")

		case <-revalidate:
			if err := a.validate(ctx, out, path, mode, family); err != nil {
				a.logger.Error().Err(err).Str("path", path).Msg("Validation failed")
			}
			// The process outlives each run, so export its spans now.
			if err := a.tel.Flush(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to flush spans")
			}
		}
	}
}
