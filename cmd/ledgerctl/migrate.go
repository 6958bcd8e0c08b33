package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/autocheckout/internal/store"
)

func migrateCmd() *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema to DB_SOURCE",
		Long: `Apply the embedded schema (users, deposits, orders, deferred_intents).
Every statement is idempotent, so running it twice is safe.

Examples:
  ledgerctl migrate
  ledgerctl migrate --print > schema.sql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				fmt.Fprint(cmd.OutOrStdout(), store.Schema())
				return nil
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Postgres().Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the schema instead of applying it")
	return cmd
}
