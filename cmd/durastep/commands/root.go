package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	storageKind string
	dbPath      string
	verbose     bool
	jsonOutput  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "durastep",
		Short: "durastep - durable carts and washing cycles",
		Long: `durastep runs two durable, identity-scoped workloads:

  - shopping carts whose state is rebuilt from an append-only event log
  - washing machine cycles driven step by step with per-step and
    overall timeouts, resumed after a restart

State lives in SQLite (or in memory for experiments).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&storageKind, "storage", "", "storage kind (sqlite, memory); overrides the config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path; overrides the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newCartCommand())
	rootCmd.AddCommand(newWashCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}

// printResult writes v as indented JSON with --json, else calls human.
func printResult(w io.Writer, v interface{}, human func(io.Writer)) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}
