package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jobstarter",
		Short: "jobstarter - runtime environment bootstrap for data-processing jobs",
		Long: `jobstarter turns a job's configuration into prepared engine contexts.

It loads a job document (CUE, YAML, JSON, TOML or Starlark), builds the
execution context for the requested job mode, derives the table or session
context from it, and applies the configured tuning:
  - idle state retention, applied only when both bounds are set
  - the engine override sub-tree, passed through verbatim
  - settings policies (OPA/rego) checked before anything is committed

Prepared environments are recorded in a local SQLite history.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (yaml, toml or json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newPrepareCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newKeysCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
