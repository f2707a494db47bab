package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/durastep/pkg/engine"
	"github.com/openfroyo/durastep/pkg/washing"
)

func newWashCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wash",
		Short: "Run and inspect washing machine cycles",
		Long: `Start washing cycles and inspect their state and step history.

A cycle runs fill-water, washing, rinsing and spinning. Without --wait the
command returns once the cycle is persisted; the cycle then continues the
next time "durastep serve" or "durastep wash resume" runs against the same
database.`,
	}

	cmd.AddCommand(newWashStartCommand())
	cmd.AddCommand(newWashStatusCommand())
	cmd.AddCommand(newWashHistoryCommand())
	cmd.AddCommand(newWashResumeCommand())

	return cmd
}

func newWashStartCommand() *cobra.Command {
	var (
		program     string
		temperature int
		wait        bool
	)

	cmd := &cobra.Command{
		Use:   "start <machine-id>",
		Short: "Start a washing cycle",
		Example: `  # Start a cotton cycle and wait for it to finish
  durastep wash start machine-1 --program cotton --temperature 40 --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			ack, err := rt.washers.Start(ctx, args[0], washing.StartCommand{
				Program:     program,
				Temperature: temperature,
			})
			if err != nil {
				return err
			}

			if !wait {
				return printResult(cmd.OutOrStdout(), ack, func(w io.Writer) {
					fmt.Fprintf(w, "✓ %s\n", ack.Message)
				})
			}

			log.Info().Str("cycle_id", args[0]).Msg(ack.Message)
			state, err := awaitCycle(ctx, rt.washers, args[0])
			if err != nil {
				return err
			}
			return printCycle(cmd.OutOrStdout(), state)
		},
	}

	cmd.Flags().StringVarP(&program, "program", "p", "", "washing program (required)")
	cmd.Flags().IntVarP(&temperature, "temperature", "t", 40, "temperature in °C (0-95)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the cycle to finish")

	return cmd
}

func newWashStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <machine-id>",
		Short: "Show the current cycle of a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			state, err := rt.washers.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printCycle(cmd.OutOrStdout(), state)
		},
	}
}

func newWashHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <machine-id>",
		Short: "Show the step transitions of a machine's cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			history, err := rt.washers.History(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), history, func(w io.Writer) {
				printHistory(w, history)
			})
		},
	}
}

func newWashResumeCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue cycles left running by a previous process",
		Long: `Re-invoke the current step of every cycle that has not reached end or
error. With --wait the command blocks until all of them finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			resumed, err := rt.washers.Resume(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("cycles", resumed).Msg("Resumed washing cycles")

			if wait && resumed > 0 {
				done := make(chan struct{})
				go func() {
					rt.washers.Wait()
					close(done)
				}()
				select {
				case <-done:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			return printResult(cmd.OutOrStdout(), map[string]int{"resumed": resumed}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Resumed %d cycle(s)\n", resumed)
			})
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for resumed cycles to finish")

	return cmd
}

// awaitCycle waits for a terminal state, bounded by the cycle timeout plus
// a grace period for the final write.
func awaitCycle(ctx context.Context, washers *washing.Service, machineID string) (washing.CycleState, error) {
	ctx, cancel := context.WithTimeout(ctx, washers.Settings().CycleTimeout+5*time.Second)
	defer cancel()
	return washers.Await(ctx, machineID, 100*time.Millisecond)
}

func printCycle(out io.Writer, state washing.CycleState) error {
	return printResult(out, state, func(w io.Writer) {
		fmt.Fprintf(w, "Cycle:        %s\n", state.CycleID)
		fmt.Fprintf(w, "Program:      %s\n", state.Program)
		fmt.Fprintf(w, "Temperature:  %d°C\n", state.Temperature)
		fmt.Fprintf(w, "Status:       %s\n", state.Status)
		fmt.Fprintf(w, "Started:      %s\n", state.StartTime.Format(time.RFC3339))
		fmt.Fprintf(w, "Last updated: %s\n", state.LastUpdated.Format(time.RFC3339))
	})
}

func printHistory(w io.Writer, history []*engine.HistoryEntry) {
	for _, h := range history {
		step := h.Step
		if step == "" {
			step = "-"
		}
		fmt.Fprintf(w, "%3d  %-10s %-8s -> %-10s %s", h.Version, step, h.Outcome, h.NextStep, h.Message)
		if h.Code != "" {
			fmt.Fprintf(w, " [%s]", h.Code)
		}
		fmt.Fprintln(w)
	}
}
