package commands

import (
	"fmt"

	"github.com/jobstarter/jobstarter/pkg/stores"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		job    string
		family string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history [environment-id]",
		Short: "Show recorded runtime environments",
		Long: `Show recorded runtime environments, newest first.

With an environment ID, the environment is shown together with its missing-key
and policy warnings.`,
		Example: `  # Last 20 environments
  jobstarter history

  # Failed environments of one job
  jobstarter history --job orders --status failed

  # One environment and its warnings
  jobstarter history 3f1c2a9e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if len(args) == 1 {
				env, err := store.GetEnvironment(ctx, args[0])
				if err != nil {
					return err
				}
				warnings, err := store.ListWarnings(ctx, env.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, struct {
						*stores.Environment
						Warnings []*stores.Warning `json:"warnings"`
					}{env, warnings})
				}
				return printEnvironment(cmd, env, warnings)
			}

			envs, err := store.ListEnvironments(ctx, stores.EnvironmentFilter{
				JobName: job,
				Family:  family,
				Status:  stores.EnvironmentStatus(status),
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, envs)
			}

			tw := newTabWriter(out)
			fmt.Fprintln(tw, "ID\tJOB\tMODE\tFAMILY\tSTATUS\tDURATION\tRECORDED")
			for _, env := range envs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
					env.ID, dash(env.JobName), env.Mode, env.Family, env.Status,
					env.DurationMs, env.RecordedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&job, "job", "", "only environments of this job")
	cmd.Flags().StringVar(&family, "family", "", "only environments of this engine family")
	cmd.Flags().StringVar(&status, "status", "", "only environments with this status (pending, prepared, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of environments to show; 0 shows all")

	return cmd
}

func printEnvironment(cmd *cobra.Command, env *stores.Environment, warnings []*stores.Warning) error {
	out := cmd.OutOrStdout()

	tw := newTabWriter(out)
	fmt.Fprintf(tw, "Environment:\t%s\n", env.ID)
	fmt.Fprintf(tw, "Job:\t%s\n", dash(env.JobName))
	fmt.Fprintf(tw, "Mode:\t%s\n", env.Mode)
	fmt.Fprintf(tw, "Family:\t%s\n", env.Family)
	fmt.Fprintf(tw, "Source:\t%s\n", dash(env.SourcePath))
	fmt.Fprintf(tw, "Status:\t%s\n", env.Status)
	if env.RetentionMinSeconds != nil && env.RetentionMaxSeconds != nil {
		fmt.Fprintf(tw, "Retention:\t%ds - %ds\n", *env.RetentionMinSeconds, *env.RetentionMaxSeconds)
	}
	if env.Error != nil {
		fmt.Fprintf(tw, "Error:\t%s\n", *env.Error)
	}
	fmt.Fprintf(tw, "Recorded:\t%s\n", env.RecordedAt.Format("2006-01-02 15:04:05"))
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(warnings) > 0 {
		fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			fmt.Fprintf(out, "  %s\t%s: %s\n", w.Kind, w.Key, w.Message)
		}
	}
	return nil
}
