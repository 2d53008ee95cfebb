package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run ledger management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the run ledger schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "run ledger schema is up to date")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the run ledger (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()
		if err := ledger.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "run ledger reset")
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
