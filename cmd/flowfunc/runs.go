package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/flowfunc/internal/store"
	"github.com/rendis/flowfunc/pkg/schema"
)

func newRunsCmd(c *cli) *cobra.Command {
	var (
		workflow string
		status   string
		since    string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := store.RunFilter{Workflow: workflow, Limit: limit}
			if status != "" {
				rs := schema.RunStatus(status)
				switch rs {
				case schema.RunStatusRunning, schema.RunStatusSuccess, schema.RunStatusFailed:
				default:
					return fmt.Errorf("unknown status %q: want running, success or failed", status)
				}
				filter.Status = &rs
			}
			if since != "" {
				t, err := parseSince(since, time.Now())
				if err != nil {
					return err
				}
				filter.Since = &t
			}

			a, err := c.newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.history()
			if err != nil {
				return err
			}

			runs, err := st.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&workflow, "workflow", "", "only runs of this workflow name")
	flags.StringVar(&status, "status", "", "only runs with this status: running, success or failed")
	flags.StringVar(&since, "since", "", "only runs started since a duration ago (24h) or an RFC 3339 time")
	flags.IntVar(&limit, "limit", 20, "maximum number of runs")

	cmd.AddCommand(newRunsShowCmd(c), newRunsDeleteCmd(c))
	return cmd
}

func newRunsShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run with its stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.history()
			if err != nil {
				return err
			}

			summary, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			stages, err := store.NewEventLog(st, a.logger).Replay(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printSummary(out, summary)
			if len(stages) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "STAGE\tSTATUS\tDURATION\tERROR")
			for _, s := range stages {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Stage, s.Status, s.Duration.Round(time.Millisecond), orDash(s.Error))
			}
			return tw.Flush()
		},
	}
}

func newRunsDeleteCmd(c *cli) *cobra.Command {
	var keepFiles bool

	cmd := &cobra.Command{
		Use:   "delete RUN_ID...",
		Short: "Delete runs from the history together with their run directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.history()
			if err != nil {
				return err
			}

			for _, runID := range args {
				summary, err := st.GetRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if err := st.DeleteRun(cmd.Context(), runID); err != nil {
					return err
				}
				if !keepFiles && summary.RunDir != "" {
					if err := os.RemoveAll(summary.RunDir); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", runID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepFiles, "keep-files", false, "keep the run directories on disk")
	return cmd
}

func printRuns(w io.Writer, runs []*schema.Summary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tWORKFLOW\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		started := "-"
		if r.StartTime != nil {
			started = r.StartTime.Local().Format(time.DateTime)
		}
		duration := "-"
		if d := r.DurationSeconds(); d != nil {
			duration = fmt.Sprintf("%.2fs", *d)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.RunID, r.WorkflowName, r.Status, started, duration)
	}
	return tw.Flush()
}

// parseSince accepts a duration before now or an RFC 3339 timestamp.
func parseSince(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want a duration or an RFC 3339 time", s)
	}
	return t, nil
}
