package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"dealsignal/internal/app"
	"dealsignal/internal/logger"
)

type runResult struct {
	ScheduleID string
	Duration   time.Duration
	Err        error
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <scheduleId>...",
		Short: "Execute schedules once and print source and pipeline state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, pipeline, err := opts.load()
			if err != nil {
				return err
			}
			log, err := newLogger(settings)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), settings, pipeline, log, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()
			return runSchedules(cmd.Context(), cmd.OutOrStdout(), a, args)
		},
	}
}

func runSchedules(ctx context.Context, out io.Writer, a *app.App, ids []string) error {
	var (
		results []runResult
		failed  *multierror.Error
	)
	for _, id := range ids {
		start := time.Now()
		err := a.Scheduler.RunNow(ctx, id)
		results = append(results, runResult{ScheduleID: id, Duration: time.Since(start), Err: err})
		if err != nil {
			a.Log.Warn("schedule run failed", logger.String("schedule_id", id), logger.Err(err))
			failed = multierror.Append(failed, fmt.Errorf("%s: %w", id, err))
		}
	}
	renderRuns(out, results)
	renderSources(out, a.Runner)
	renderPipelines(out, a.Runner)
	return failed.ErrorOrNil()
}
