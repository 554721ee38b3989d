package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vitwit/batchpay/types"
)

func statusCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:     "status <id>",
		Short:   "show one batch and check its status with the wallet",
		Args:    cobra.ExactArgs(1),
		Example: `batchpay status 0x5c9f...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			ctx := cmd.Context()

			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			rec, err := e.engine.Lookup(ctx, id)
			if err != nil {
				return err
			}

			if !offline && !rec.Status.IsTerminal() {
				res, _, err := e.engine.Refresh(ctx, id)
				if err != nil {
					e.log.Warn("status check failed", map[string]any{"id": id, "error": err})
				} else {
					rec.Status = res.Status
				}
			}

			out := cmd.OutOrStdout()
			if err := printRecords(out, []types.PaymentRecord{rec}, e.cfg.Token.Symbol, true); err != nil {
				return err
			}
			if rec.Atomic {
				fmt.Fprintln(out, "submitted as an atomic batch")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "only read the ledger")

	return cmd
}
