package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vitwit/batchpay/types"
	"github.com/vitwit/batchpay/utils"
)

func historyCmd() *cobra.Command {
	var (
		status  string
		asJSON  bool
		details bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "list recorded batches, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := types.Status(status)
			if status != "" && !filter.IsValid() {
				return types.NewError(types.CodeValidation, "unknown status %q", status)
			}

			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			records, err := e.engine.History(cmd.Context())
			if err != nil {
				return err
			}
			if filter != "" {
				kept := records[:0]
				for _, r := range records {
					if r.Status == filter {
						kept = append(kept, r)
					}
				}
				records = kept
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := utils.NormalizeJSON(records)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "no payments recorded")
				return nil
			}
			return printRecords(out, records, e.cfg.Token.Symbol, details)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only show pending, completed or failed batches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	cmd.Flags().BoolVar(&details, "details", false, "list the recipients of every batch")

	return cmd
}

func printRecords(out io.Writer, records []types.PaymentRecord, symbol string, details bool) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tSTATUS\tRECIPIENTS\tTOTAL")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s %s\n",
			r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Status, r.RecipientCount, r.DisplayTotal(), symbol)
		if details {
			for _, p := range r.Recipients {
				fmt.Fprintf(tw, "\t  %s\t%s\t\t%s %s\n", p.Name, p.Address, p.Amount, symbol)
			}
		}
	}
	return tw.Flush()
}
