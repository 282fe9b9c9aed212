package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	ctx := newCommandContext(opts)

	rootCmd := &cobra.Command{
		Use:           "llmctl",
		Short:         "Talk to LLM providers through a single resilient client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.ensure()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !opts.metrics {
				return nil
			}
			return ctx.printMetrics(cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Configuration file path (default ~/.llmbridge/config.yaml)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file loaded before the configuration")
	flags.StringVarP(&opts.provider, "provider", "p", "", "Provider to use, bypassing the preference list")
	flags.StringVarP(&opts.model, "model", "m", "", "Model to use instead of the provider default")
	flags.StringVar(&opts.logFile, "logfile", "", "Path to log file. If not set, logs go to stderr")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.pretty, "pretty", false, "Use pretty console output (only valid when logfile is not set)")
	flags.BoolVar(&opts.metrics, "metrics", false, "Print transport metrics to stderr when the command finishes")

	rootCmd.AddCommand(newChatCommand(ctx))
	rootCmd.AddCommand(newStreamCommand(ctx))
	rootCmd.AddCommand(newEmbedCommand(ctx))
	rootCmd.AddCommand(newImageCommand(ctx))
	rootCmd.AddCommand(newProvidersCommand(ctx))

	return rootCmd
}
