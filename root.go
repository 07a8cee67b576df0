package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/codexplain/config"
	"github.com/fabfab/codexplain/logging"
)

// cli carries what every subcommand needs once the root has run.
type cli struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "codexplain",
		Short: "Explain source code block by block in plain language",
		Long: "codexplain splits a code snippet into blocks, asks a language model to explain\n" +
			"each one for a beginner and keeps the results in numbered conversations.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// config init writes a fresh file and must not depend on an existing one.
			if cmd.Annotations["skipConfig"] == "true" {
				return nil
			}
			return c.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a codexplain.yaml file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCmd(c),
		newExplainCmd(c),
		newConversationsCmd(c),
		newSearchCmd(c),
		newClearCmd(c),
		newConfigCmd(c),
	)

	return root
}

func (c *cli) load() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = logger
	return nil
}
