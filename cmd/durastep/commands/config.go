package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/durastep/pkg/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}

	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigValidateCommand())

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "init [path]",
		Short:   "Write a default configuration file",
		Example: `  durastep config init durastep.yaml`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "durastep.yaml"
			if len(args) == 1 {
				path = args[0]
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}

			log.Info().Str("path", path).Msg("Wrote default configuration")
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a configuration file against the schema",
		Long: `Load a configuration file the way every command does: defaults, then the
file, then DURASTEP_* environment variables. Report the effective settings
or the first problem found.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			return printResult(cmd.OutOrStdout(), cfg, func(w io.Writer) {
				fmt.Fprintln(w, "✓ Configuration is valid")
				fmt.Fprintf(w, "  listen:   %s\n", cfg.Server.Address)
				fmt.Fprintf(w, "  storage:  %s %s\n", cfg.Storage.Kind, cfg.Storage.Path)
				fmt.Fprintf(w, "  failures: %.2f\n", cfg.Simulation.FailureRate)
			})
		},
	}
}
