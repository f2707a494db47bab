package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/durastep/pkg/api"
	"github.com/openfroyo/durastep/pkg/config"
	"github.com/openfroyo/durastep/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the cart and washing machine API.

On start every washing cycle left running by a previous process is resumed
at its persisted step. With --config the file is watched and changes to the
simulated step delays and failure rate apply to steps started afterwards.

Routes:
  GET  /washing-machines/:id
  POST /washing-machines/:id/start
  GET  /washing-machines/:id/history
  GET  /carts/:id
  POST /carts/:id/items
  GET  /metrics`,
		Example: `  # Serve with defaults (SQLite in ./durastep.db, localhost:9000)
  durastep serve

  # Serve in memory on another port
  durastep serve --storage memory --addr localhost:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = rt.cfg.Server.Address
			}

			resumed, err := resumeCycles(ctx, rt)
			if err != nil {
				return err
			}
			log.Info().Int("cycles", resumed).Msg("Resumed washing cycles")

			if configPath != "" {
				watcher := config.NewWatcher(configPath, 0, rt.tel.Logger)
				err := watcher.Watch(ctx, func(cfg *config.Config) error {
					return rt.washers.UpdateSettings(cfg.Simulation.Settings())
				})
				if err != nil {
					log.Warn().Err(err).Msg("Config hot reload disabled")
				}
			}

			server := api.NewServer(rt.carts, rt.washers, rt.tel)
			return server.ListenAndServe(ctx, addr, rt.cfg.Server.ShutdownTimeout)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address; overrides server.address")

	return cmd
}

// resumeCycles attaches the event log subscriber, then restarts unfinished
// cycles so their first events are logged too.
func resumeCycles(ctx context.Context, rt *runtime) (int, error) {
	rt.tel.Events.Subscribe(logEvent, nil)

	resumed, err := rt.washers.Resume(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to resume washing cycles: %w", err)
	}
	return resumed, nil
}

func logEvent(e telemetry.Event) {
	log.Debug().
		Str("type", e.Type).
		Str("instance", e.InstanceID).
		Str("step", e.Step).
		Msg(e.Message)
}
