package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	var opts rootFlags

	root := &cobra.Command{
		Use:   "gitreal",
		Short: "Fetch and cache flattened GitHub repositories",
		Long: `gitreal flattens a GitHub repository's source files into one text
document and serves repeat requests from a bounded TTL cache.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(newFetchCmd(&opts))
	root.AddCommand(newVersionCmd())
	return root
}

// logger writes human-readable logs to the command's stderr.
func (o *rootFlags) logger(cmd *cobra.Command) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(o.logLevel)
	if err != nil {
		return zerolog.Nop(), err
	}
	w := zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
