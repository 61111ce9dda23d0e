package main

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/mklimuk/sonar/cmd/dev/cmd"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("dev task failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:          "dev",
		Short:        "build/test/release tool for the sonar project",
		Long:         "Builds the sonar cli natively or in a cross-compiling container, runs tests and linters and keeps the changelog.",
		SilenceUsage: true,
		PersistentPreRun: func(c *cobra.Command, _ []string) {
			slog.SetDefault(slog.New(newLogHandler(c.ErrOrStderr(), debug)))
		},
	}
	root.PersistentFlags().BoolVarP(&debug, "debug", "v", false, "enable debug logging")
	root.AddCommand(
		cmd.BuildCmd(),
		cmd.ChangelogCmd(),
		cmd.TestCmd(),
		cmd.LintCmd(),
		cmd.IntegrationTestCmd(),
	)
	return root
}

// newLogHandler logs task progress to w, at debug level when asked.
func newLogHandler(w io.Writer, debug bool) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	charm := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "sonar-dev",
		Level:           level,
	})
	charm.SetColorProfile(termenv.ANSI256)
	return charm
}
