package commands

import (
	"fmt"

	"github.com/jobstarter/jobstarter/pkg/config"
	"github.com/spf13/cobra"
)

func newKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the configuration keys the runtime environment interprets",
		Long: `List the configuration keys the runtime environment interprets.

Paths are relative to the env block of a job document. Any other key is
ignored, except under the engine sub-tree, which is passed through verbatim.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := config.Keys.All()
			out := cmd.OutOrStdout()

			if jsonOutput {
				return writeJSON(out, specs)
			}

			tw := newTabWriter(out)
			fmt.Fprintln(tw, "PATH\tKIND\tUNIT\tDEFAULT\tDESCRIPTION")
			for _, s := range specs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Path, s.Kind, dash(s.Unit), dash(s.Default), s.Description)
			}
			return tw.Flush()
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
