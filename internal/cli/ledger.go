package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/app"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/worm"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the registration ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every ledger entry keyed by index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			entries, err := a.Ledger.Entries(cmd.Context())
			if err != nil {
				return err
			}
			doc := make(map[string]worm.Entry, len(entries))
			for _, e := range entries {
				doc[strconv.FormatInt(e.Index, 10)] = e
			}
			return printJSON(cmd.OutOrStdout(), doc)
		})
	},
}

var ledgerValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Recompute every hash and link of the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			report, err := a.Service.ValidateLedger(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.OK {
				return fmt.Errorf("ledger broken at index %d", report.BrokenAt)
			}
			return nil
		})
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerShowCmd, ledgerValidateCmd)
	rootCmd.AddCommand(ledgerCmd)
}
