package commands

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/durastep/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the SQLite schema",
		Long: `Apply the embedded schema migrations to the configured SQLite database.

Every command that opens the store migrates it as well; use this to prepare
a database ahead of time.`,
		Example: `  durastep migrate --db /var/lib/durastep/durastep.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.StoreKind() != stores.KindSQLite {
				return fmt.Errorf("migrate needs sqlite storage, got %s", cfg.Storage.Kind)
			}

			store, err := stores.NewSQLiteStore(cfg.Storage.StoreConfig())
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			version, dirty, err := store.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			log.Info().
				Str("path", cfg.Storage.Path).
				Uint("version", version).
				Bool("dirty", dirty).
				Msg("Database migrated")

			return printResult(cmd.OutOrStdout(), map[string]interface{}{
				"path":    cfg.Storage.Path,
				"version": version,
				"dirty":   dirty,
			}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s at schema version %d\n", cfg.Storage.Path, version)
			})
		},
	}

	return cmd
}
