package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newLotsCommand(ctx *commandContext) *cobra.Command {
	lotsCmd := &cobra.Command{
		Use:   "lots",
		Short: "Inspect and manage document lots",
	}

	lotsCmd.AddCommand(newLotsListCommand(ctx))
	lotsCmd.AddCommand(newLotsShowCommand(ctx))
	lotsCmd.AddCommand(newLotsAddCommand(ctx))
	lotsCmd.AddCommand(newLotsApproveCommand(ctx))

	return lotsCmd
}

func newLotsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all lots",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			lots, err := client.Lots(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, lots)
			}
			if len(lots) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No lots found.")
				return nil
			}
			rows := make([][]string, 0, len(lots))
			for _, lot := range lots {
				rows = append(rows, []string{
					strconv.FormatInt(lot.ID, 10),
					lot.Title,
					lot.Status,
					strconv.Itoa(lot.TotalChunks),
					lot.UserWallet,
					lot.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "TITLE", "STATUS", "CHUNKS", "WALLET", "CREATED"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit lots as JSON")
	return cmd
}

func newLotsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <lot-id>",
		Short: "Show one lot and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "lot id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			detail, err := client.Lot(cmd.Context(), id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, detail)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Lot %d: %s (%s, %d chunks)\n", detail.Lot.ID, detail.Lot.Title, detail.Lot.Status, detail.Lot.TotalChunks)
			rows := make([][]string, 0, len(detail.Chunks))
			for _, chunk := range detail.Chunks {
				rows = append(rows, []string{
					strconv.FormatInt(chunk.ID, 10),
					strconv.Itoa(chunk.Ordinal),
					strconv.Itoa(chunk.WordCount),
					chunk.Status,
					fmt.Sprintf("%dp / %s", chunk.BountyPence, chunk.BountyStable),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"CHUNK", "ORD", "WORDS", "STATUS", "BOUNTY"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit lot detail as JSON")
	return cmd
}

func newLotsAddCommand(ctx *commandContext) *cobra.Command {
	var wallet string
	var title string
	var strategy string

	cmd := &cobra.Command{
		Use:   "add <document-file>",
		Short: "Split a document file into chunks and open it on the market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(wallet) == "" {
				return fmt.Errorf("--wallet is required")
			}
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			if strings.TrimSpace(title) == "" {
				title = args[0]
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			lot, err := client.IngestLot(cmd.Context(), wallet, title, string(content), strategy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created lot %d with %d chunks\n", lot.ID, lot.TotalChunks)
			return nil
		},
	}

	cmd.Flags().StringVar(&wallet, "wallet", "", "Document owner wallet address")
	cmd.Flags().StringVar(&title, "title", "", "Lot title (defaults to the file name)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Split strategy: auto, simple, paragraph, or citation")
	return cmd
}

func newLotsApproveCommand(ctx *commandContext) *cobra.Command {
	var rating float64

	cmd := &cobra.Command{
		Use:   "approve <lot-id>",
		Short: "Approve a fully verified lot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "lot id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var ratingArg *float64
			if cmd.Flags().Changed("rating") {
				ratingArg = &rating
			}
			lot, err := client.ApproveLot(cmd.Context(), id, ratingArg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Lot %d approved (status %s)\n", lot.ID, lot.Status)
			return nil
		},
	}

	cmd.Flags().Float64Var(&rating, "rating", 0, "Rate the lot's checkers from 0 to 5")
	return cmd
}

func parseID(value, label string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", label, value)
	}
	return id, nil
}
