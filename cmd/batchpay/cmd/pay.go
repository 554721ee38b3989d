package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitwit/batchpay/types"
	"github.com/vitwit/batchpay/utils"
)

func payCmd() *cobra.Command {
	var (
		recipientsPath string
		wait           bool
		timeout        time.Duration
	)

	cmd := &cobra.Command{
		Use:     "pay",
		Short:   "submit a roster as one batch",
		Long:    `Read a roster (CSV with a name,address,amount header, or a JSON array), encode it and submit it through the wallet. The batch is recorded as pending once the wallet accepts it.`,
		Example: `batchpay pay --recipients payroll.csv --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			recipients, err := utils.LoadRecipients(recipientsPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			prepared, err := e.engine.Prepare(ctx, recipients)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recipients: %d\ntotal:      %s %s\natomic:     %t\n",
				len(recipients), prepared.Total.StringFixed(2), e.cfg.Token.Symbol, prepared.Atomic)

			payment, err := e.engine.Submit(ctx, prepared)
			if err != nil {
				if errors.Is(err, types.ErrUserRejected) {
					fmt.Fprintln(out, "batch rejected in the wallet, nothing was sent")
				}
				return err
			}
			fmt.Fprintf(out, "submitted:  %s\n", payment.ID)

			if !wait {
				return nil
			}

			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			res, err := payment.Handle.Wait(waitCtx)
			if errors.Is(err, context.DeadlineExceeded) {
				fmt.Fprintf(out, "status:     still pending after %s; run `batchpay status %s` later\n", timeout, payment.ID)
				return nil
			}
			fmt.Fprintf(out, "status:     %s\n", res.Status)
			return err
		},
	}

	cmd.Flags().StringVarP(&recipientsPath, "recipients", "r", "", "roster file, .csv or .json (required)")
	_ = cmd.MarkFlagRequired("recipients")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the batch to complete")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long --wait waits")

	return cmd
}
