package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"dealsignal/internal/config"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [pipeline.yaml]",
		Short: "Check a pipeline definition and list every problem",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.pipelineFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				settings, err := opts.settings()
				if err != nil {
					return err
				}
				path = settings.PipelineFile
			}
			return validatePipeline(cmd.OutOrStdout(), path)
		},
	}
}

func validatePipeline(out io.Writer, path string) error {
	pipeline, err := config.LoadPipeline(path)
	if err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			fmt.Fprintf(out, "%s: %d problem(s)\n", path, len(merr.Errors))
			for _, e := range merr.Errors {
				fmt.Fprintf(out, "  - %s\n", e)
			}
			return fmt.Errorf("pipeline %s is invalid", path)
		}
		return err
	}
	fmt.Fprintf(out, "%s: ok (%d sources, %d jobs, %d schedules, %d rules, %d channels)\n",
		path, len(pipeline.Sources), len(pipeline.Jobs), len(pipeline.Schedules), len(pipeline.Rules), len(pipeline.Channels))
	return nil
}
