package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func balanceCmd() *cobra.Command {
	var orders int
	cmd := &cobra.Command{
		Use:   "balance [user-id]",
		Short: "Show a user's balance and recent orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.Ledger.GetUser(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("user %s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:    %s\nbalance: %s\n", user.ID, user.Balance.StringFixed(2))

			if orders <= 0 {
				return nil
			}
			list, err := a.Ledger.ListOrders(cmd.Context(), user.ID, orders)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "\norders:  (none)")
				return nil
			}
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tKIND\tAMOUNT\tSTATUS\tCREATED")
			for _, o := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					o.ID, o.Kind, o.Amount.StringFixed(2), o.Status, o.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&orders, "orders", "n", 10, "number of recent orders to list")
	return cmd
}
