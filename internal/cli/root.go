// Package cli implements the ssdeploy command-line interface.
package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	jsonOut bool
)

// newRootCmd builds the command tree. Flags are bound fresh on every call.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ssdeploy",
		Short: "Move BI dashboards between environments through a portable repository",
		Long: `ssdeploy extracts dashboards, charts, datasets and databases from a BI
platform environment into a portable, name-keyed repository, and imports them
back into any other environment.

Quick start:
  ssdeploy extract --env dev --class dashboard "Exec"
  ssdeploy import --env prod --class dashboard Exec
  ssdeploy list
  ssdeploy history`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ssdeploy.yaml or $HOME/.ssdeploy/ssdeploy.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command line.
func Execute() error {
	return newRootCmd().Execute()
}

// setupLogging installs the default logger on w. JSON output mode logs JSON too.
func setupLogging(w io.Writer) {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if jsonOut {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
