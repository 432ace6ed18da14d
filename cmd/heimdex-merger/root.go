package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-merger/internal/config"
	"github.com/heimdex/heimdex-merger/internal/logging"
)

type commandContext struct {
	configPath string
	logLevel   string
	cfg        *config.Settings
}

func (c *commandContext) config() (*config.Settings, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) level(cfg config.Config) string {
	if c.logLevel != "" {
		return c.logLevel
	}
	return cfg.LogLevel()
}

// cliLogger logs to stderr so command output on stdout stays clean.
func (c *commandContext) cliLogger(cfg config.Config) *slog.Logger {
	return logging.New(os.Stderr, c.level(cfg), !logging.IsTerminal(os.Stderr))
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	root := &cobra.Command{
		Use:           "heimdex-merger",
		Short:         "Merge video clips into a single movie",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&cc.configPath, "config", "c", "", "Configuration file path")
	root.PersistentFlags().StringVar(&cc.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(newServeCommand(cc))
	root.AddCommand(newMergeCommand(cc))
	root.AddCommand(newJobsCommand(cc))
	root.AddCommand(newDoctorCommand(cc))

	return root
}
