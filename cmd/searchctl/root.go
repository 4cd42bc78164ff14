package main

import (
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "searchctl",
		Short:        "Query and maintain the obras search index",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger.SetupWriter(cmd.ErrOrStderr(), opts.logLevel, "text")
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (defaults plus OS_* overrides when empty)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSearchCmd(opts),
		newHighlightCmd(),
		newCacheCmd(opts),
		newCorpusCmd(opts),
		newKeyCmd(),
		newLoadTestCmd(),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}
