package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/autocheckout/internal/service"
)

func reconcileCmd() *cobra.Command {
	var opts service.SweepOptions
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Finish confirmed deposits that were never credited and replay stranded purchases",
		Long: `Run one reconciliation pass:
1. Credit every confirmed deposit whose balance credit never happened
2. Replay deferred purchases whose charge is credited but still waiting
3. With --check-pending, ask the payment provider about pending charges
   and report the ones it already considers paid

Prints the sweep report as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Reconciler.Sweep(cmd.Context(), opts)
			// replayed number rentals finish their code wait before exit
			a.Executor.Wait()
			if report != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if eerr := enc.Encode(report); eerr != nil {
					return eerr
				}
			}
			return err
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum records per phase")
	cmd.Flags().BoolVar(&opts.CheckPending, "check-pending", false, "query the provider for pending charges")
	return cmd
}
