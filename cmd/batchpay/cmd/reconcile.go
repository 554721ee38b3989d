package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitwit/batchpay/types"
)

func reconcileCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "poll every pending batch until it settles",
		Long:  `Resume status polling for every batch the ledger still holds as pending, e.g. after the process was stopped mid-poll. Batches still pending when the timeout expires stay pending.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			handles, err := e.engine.Resume(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(handles) == 0 {
				fmt.Fprintln(out, "nothing pending")
				return nil
			}

			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			counts := map[types.Status]int{}
			for _, h := range handles {
				res, _ := h.Wait(waitCtx)
				counts[res.Status]++
				fmt.Fprintf(out, "%s\t%s\n", h.ID(), res.Status)
			}
			fmt.Fprintf(out, "completed: %d, failed: %d, pending: %d\n",
				counts[types.StatusCompleted], counts[types.StatusFailed], counts[types.StatusPending])
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up waiting after this long")

	return cmd
}
