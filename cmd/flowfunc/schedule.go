package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/flowfunc/internal/run"
	"github.com/rendis/flowfunc/internal/scheduler"
)

// newScheduler opens the history store and returns a scheduler running
// workflows through the app's coordinator.
func (c *cli) newScheduler(cmd *cobra.Command) (*app, *scheduler.Scheduler, error) {
	a, err := c.newApp(cmd.Context(), true)
	if err != nil {
		return nil, nil, err
	}
	st, err := a.history()
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	sched := scheduler.NewScheduler(st, a.coordinator(), scheduler.Options{
		Interval: a.cfg.SchedulerInterval,
		Logger:   a.logger,
	})
	return a, sched, nil
}

func newScheduleCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron-scheduled workflow runs",
	}
	cmd.AddCommand(newScheduleAddCmd(c), newScheduleListCmd(c), newScheduleRemoveCmd(c))
	return cmd
}

func newScheduleAddCmd(c *cli) *cobra.Command {
	var (
		paramsJSON string
		paramsFile string
		pairs      []string
		runName    string
		cronExpr   string
	)

	cmd := &cobra.Command{
		Use:   "add WORKFLOW_FILE --cron EXPR",
		Short: "Schedule a workflow with a five-field cron expression or a descriptor such as @hourly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, file, err := cliParams(paramsJSON, paramsFile, pairs)
			if err != nil {
				return err
			}
			if file != "" {
				// Scheduled runs keep their parameters in the store.
				if params, err = run.LoadParamsFile(file); err != nil {
					return err
				}
			}
			workflowFile, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			a, sched, err := c.newScheduler(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, _, err := a.compile(workflowFile); err != nil {
				return err
			}
			sr, err := sched.Add(cmd.Context(), scheduler.AddRequest{
				WorkflowFile:   workflowFile,
				RunName:        runName,
				CronExpression: cronExpr,
				Params:         params,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s (next run %s)\n", sr.ID, sr.NextRunAt.Local().Format(time.DateTime))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cronExpr, "cron", "", "cron expression, e.g. \"0 6 * * *\" or @daily")
	flags.StringVar(&paramsJSON, "params", "", "parameters as a JSON object")
	flags.StringVar(&paramsFile, "params-file", "", "parameters file read now and stored with the schedule")
	flags.StringArrayVar(&pairs, "param", nil, "a single parameter as key=value (repeatable)")
	flags.StringVar(&runName, "name", "", "prefix for the generated run ids")
	cmd.MarkFlagsMutuallyExclusive("params", "params-file")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func newScheduleListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, sched, err := c.newScheduler(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := sched.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				_, err := fmt.Fprintln(out, "no scheduled runs")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCRON\tWORKFLOW\tENABLED\tNEXT RUN\tLAST STATUS")
			for _, sr := range list {
				next := "-"
				if sr.NextRunAt != nil {
					next = sr.NextRunAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
					sr.ID, sr.CronExpression, sr.WorkflowFile, sr.Enabled, next, orDash(string(sr.LastRunStatus)))
			}
			return tw.Flush()
		},
	}
}

func newScheduleRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a scheduled run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, sched, err := c.newScheduler(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := sched.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newSchedulerCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run due scheduled workflows until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, sched, err := c.newScheduler(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := sched.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return sched.Stop()
		},
	}
}
