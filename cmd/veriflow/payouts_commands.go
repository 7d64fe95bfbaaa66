package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newPayoutsCommand(ctx *commandContext) *cobra.Command {
	payoutsCmd := &cobra.Command{
		Use:   "payouts",
		Short: "Inspect and retry checker payouts",
	}

	payoutsCmd.AddCommand(newPayoutsListCommand(ctx))
	payoutsCmd.AddCommand(newPayoutsRetryCommand(ctx))

	return payoutsCmd
}

func newPayoutsListCommand(ctx *commandContext) *cobra.Command {
	var status string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			payouts, err := client.Payouts(cmd.Context(), status)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, payouts)
			}
			if len(payouts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No payouts found.")
				return nil
			}
			rows := make([][]string, 0, len(payouts))
			for _, payout := range payouts {
				detail := payout.TxHash
				if payout.Status == "failed" {
					detail = payout.ErrorMessage
				}
				rows = append(rows, []string{
					strconv.FormatInt(payout.ID, 10),
					strconv.FormatInt(payout.ChunkID, 10),
					strconv.FormatInt(payout.CheckerID, 10),
					payout.AmountStable,
					payout.Status,
					detail,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "CHUNK", "CHECKER", "AMOUNT", "STATUS", "TX / ERROR"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status: pending, paid, or failed")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit payouts as JSON")
	return cmd
}

func newPayoutsRetryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <payout-id>",
		Short: "Requeue a failed payout for settlement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "payout id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			payout, err := client.RetryPayout(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Payout %d requeued (status %s)\n", payout.ID, payout.Status)
			return nil
		},
	}
	return cmd
}
