package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newQuoteCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "quote <word-count>",
		Short: "Estimate the escrow cost for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			words, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil || words <= 0 {
				return fmt.Errorf("invalid word count %q", args[0])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			quote, err := client.Quote(cmd.Context(), words)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, quote)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Estimated chunks:   %d\n", quote.EstimatedChunks)
			fmt.Fprintf(out, "Cost per chunk:     %s\n", quote.CostPerChunk)
			fmt.Fprintf(out, "Total cost:         %s\n", quote.TotalCost)
			fmt.Fprintf(out, "Escrow with buffer: %s\n", quote.EscrowWithBuffer)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit quote as JSON")
	return cmd
}

func newEarningsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "earnings <wallet>",
		Short: "Show a checker's earnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			earnings, err := client.Earnings(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, earnings)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wallet:           %s\n", earnings.Wallet)
			fmt.Fprintf(out, "Total paid:       %s\n", earnings.TotalPaidStable)
			fmt.Fprintf(out, "Pending payouts:  %d\n", earnings.PendingPayoutCount)
			fmt.Fprintf(out, "Failed payouts:   %d\n", earnings.FailedPayoutCount)
			fmt.Fprintf(out, "Completed chunks: %d\n", earnings.CompletedChunks)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit earnings as JSON")
	return cmd
}
