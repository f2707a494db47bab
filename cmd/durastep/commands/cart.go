package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/durastep/pkg/cart"
)

func newCartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Work with shopping carts",
		Long: `Add items to carts and read them back.

A cart's state is never stored. Every read folds the cart's event log.`,
	}

	cmd.AddCommand(newCartAddCommand())
	cmd.AddCommand(newCartGetCommand(false))
	cmd.AddCommand(newCartGetCommand(true))

	return cmd
}

func newCartAddCommand() *cobra.Command {
	var (
		name     string
		quantity int
	)

	cmd := &cobra.Command{
		Use:   "add <cart-id> <product-id>",
		Short: "Add a line item to a cart",
		Example: `  # Add two bars of soap
  durastep cart add cart-1 soap --name Soap --quantity 2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			state, err := rt.carts.AddItem(ctx, args[0], cart.LineItem{
				ProductID: args[1],
				Name:      name,
				Quantity:  quantity,
			})
			if err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), state)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "product name")
	cmd.Flags().IntVarP(&quantity, "quantity", "q", 1, "quantity to add")

	return cmd
}

func newCartGetCommand(replay bool) *cobra.Command {
	use, short := "get <cart-id>", "Show a cart"
	if replay {
		use, short = "replay <cart-id>", "Rebuild a cart from its full event log"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			var state cart.State
			if replay {
				state, err = rt.carts.Replay(ctx, args[0])
			} else {
				state, err = rt.carts.GetCart(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), state)
		},
	}
}

func printCart(out io.Writer, state cart.State) error {
	return printResult(out, state, func(w io.Writer) {
		fmt.Fprintf(w, "Cart %s", state.CartID)
		if state.CheckedOut {
			fmt.Fprint(w, " (checked out)")
		}
		fmt.Fprintln(w)
		if len(state.Items) == 0 {
			fmt.Fprintln(w, "  (empty)")
			return
		}
		for _, item := range state.Items {
			fmt.Fprintf(w, "  %-20s %-20s x%d\n", item.ProductID, item.Name, item.Quantity)
		}
	})
}
