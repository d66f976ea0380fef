package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dealsignal/internal/config"
	"dealsignal/internal/logger"
)

type rootOptions struct {
	configFile   string
	pipelineFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "dealsignal",
		Short:         "Scheduled deal-signal ingestion and notification service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "settings file (yaml); environment variables use the DEALSIGNAL_ prefix")
	cmd.PersistentFlags().StringVar(&opts.pipelineFile, "pipeline", "", "pipeline definition file (overrides pipeline.file)")

	cmd.AddCommand(
		newServeCommand(opts),
		newValidateCommand(opts),
		newRunCommand(opts),
		newEncryptCommand(opts),
	)
	return cmd
}

// load resolves settings and the pipeline definition.
func (o *rootOptions) load() (config.Settings, *config.Pipeline, error) {
	settings, err := o.settings()
	if err != nil {
		return config.Settings{}, nil, err
	}
	pipeline, err := config.LoadPipeline(settings.PipelineFile)
	if err != nil {
		return config.Settings{}, nil, fmt.Errorf("pipeline %s: %w", settings.PipelineFile, err)
	}
	return settings, pipeline, nil
}

func (o *rootOptions) settings() (config.Settings, error) {
	settings, err := config.LoadSettings(o.configFile)
	if err != nil {
		return config.Settings{}, err
	}
	if o.pipelineFile != "" {
		settings.PipelineFile = o.pipelineFile
	}
	return settings, nil
}

func newLogger(settings config.Settings) (logger.Logger, error) {
	return logger.New(logger.Config{Level: settings.Log.Level, Development: settings.Log.Development})
}
