// Command suyactl is the operator CLI for the payment service: it runs
// migrations, registers the IPN URL and inspects or settles payments by
// hand.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/suya/internal"
)

var Version = "dev"

var (
	jsonOutput bool
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "suyactl",
		Short:         "Operate the Lagos Suya payment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	// Add subcommands
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(registerIPNCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the same configuration as the server. Logs go to
// stderr so command output stays pipeable.
func loadConfig() (*internal.Config, *slog.Logger, error) {
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("config initialization failed: %w", err)
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	return cfg, internal.NewLogger(os.Stderr, "dev", level), nil
}
