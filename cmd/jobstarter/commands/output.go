package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/jobstarter/jobstarter/pkg/runtime"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printSummary renders an environment summary as text, or as JSON with --json.
func printSummary(w io.Writer, s runtime.Summary) error {
	if jsonOutput {
		return writeJSON(w, s)
	}

	tw := newTabWriter(w)
	fmt.Fprintf(tw, "Environment:\t%s\n", s.ID)
	if s.JobName != "" {
		fmt.Fprintf(tw, "Job:\t%s\n", s.JobName)
	}
	fmt.Fprintf(tw, "Mode:\t%s\n", s.Mode)
	fmt.Fprintf(tw, "Family:\t%s\n", s.Family)
	if s.Source != "" {
		fmt.Fprintf(tw, "Source:\t%s\n", s.Source)
	}
	fmt.Fprintf(tw, "Status:\t%s\n", s.Status)
	if s.Retention != nil {
		fmt.Fprintf(tw, "Retention:\t%s\n", s.Retention)
	}
	if s.Duration > 0 {
		fmt.Fprintf(tw, "Duration:\t%s\n", s.Duration)
	}
	if s.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", s.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Settings) > 0 {
		fmt.Fprintln(w, "\nSettings:")
		keys := make([]string, 0, len(s.Settings))
		for k := range s.Settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tw = newTabWriter(w)
		for _, k := range keys {
			fmt.Fprintf(tw, "  %s\t%s\n", k, s.Settings[k])
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(s.Warnings) > 0 {
		fmt.Fprintln(w, "\nMissing keys:")
		for _, key := range s.Warnings {
			fmt.Fprintf(w, "  %s\n", key)
		}
	}

	if len(s.Violations) > 0 {
		fmt.Fprintln(w, "\nPolicy violations:")
		for _, v := range s.Violations {
			fmt.Fprintf(w, "  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
		}
	}
	return nil
}
