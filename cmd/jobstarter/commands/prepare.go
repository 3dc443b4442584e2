package commands

import (
	"github.com/jobstarter/jobstarter/pkg/runtime"
	"github.com/spf13/cobra"
)

func newPrepareCommand() *cobra.Command {
	var (
		mode     string
		family   string
		jobName  string
		noRecord bool
	)

	cmd := &cobra.Command{
		Use:   "prepare <job-file>",
		Short: "Prepare the runtime environment of a job",
		Long: `Prepare the runtime environment of a job.

The env block of the job document is handed to the process-wide runtime
environment, which builds the execution context, derives the family context
and applies retention and engine overrides. Missing retention bounds are
reported as warnings. The outcome is recorded in the history database.`,
		Example: `  # Prepare a batch job with the table family
  jobstarter prepare job.yaml

  # Prepare in streaming mode with the session family
  jobstarter prepare --mode streaming --family session job.cue

  # Print the summary as JSON without recording it
  jobstarter prepare --json --no-record job.toml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			op := a.startOperation(cmd.Context(), "cli.prepare", args[0])
			defer func() { op.End(err) }()
			ctx := op.Ctx

			doc, err := a.jobs.LoadJobFile(ctx, args[0])
			if err != nil {
				return err
			}

			opts, err := a.runtimeOptions(ctx, mode, family, jobName)
			if err != nil {
				return err
			}

			registry := runtime.NewRegistry(runtime.BuilderFor(opts), runtime.WithRegistryLogger(a.logger))
			env, err := registry.Get(doc.Env)
			if err != nil {
				return err
			}

			prepareErr := env.Prepare(ctx)
			summary := env.Summary()

			if !noRecord {
				if err := a.record(ctx, summary); err != nil {
					a.logger.Error().Err(err).Str("environment_id", summary.ID).Msg("Failed to record environment")
				}
			}

			if err := printSummary(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			return prepareErr
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "job mode: batch or streaming (default: job.mode, then batch)")
	cmd.Flags().StringVar(&family, "family", "", "engine family: table or session (default: engine.family setting)")
	cmd.Flags().StringVar(&jobName, "job-name", "", "job name; overrides job.name")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "do not record the environment in the history database")

	return cmd
}
