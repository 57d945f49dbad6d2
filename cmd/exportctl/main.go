// Package main provides exportctl, a command-line client that runs a
// segmented export against a PostgreSQL table and inspects the results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/segexport/internal/logging"
)

var (
	logLevel  string
	logFormat string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "exportctl",
		Short: "Run and inspect segmented spreadsheet exports",
		Long: `exportctl pages a table into segments and packages them as a single
workbook or a zip of workbooks.

Commands:
  run       Export a table to .xlsx or .zip
  inspect   Print the rows of an exported workbook or archive`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logging.Setup(logLevel, logFormat)
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newInspectCommand())

	return rootCmd
}
