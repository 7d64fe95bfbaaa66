package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"veriflow/internal/splitter"
)

// newSplitCommand runs the splitter locally without touching the daemon,
// useful for previewing chunk boundaries before ingesting a document.
func newSplitCommand(ctx *commandContext) *cobra.Command {
	var strategy string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "split <document-file>",
		Short: "Preview how a document would be split into chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}

			opts := splitter.DefaultOptions()
			opts.TargetWords = cfg.Market.TargetWords
			opts.MinWords = cfg.Market.MinWords
			opts.MaxWords = cfg.Market.MaxWords
			opts.OverlapWords = cfg.Market.OverlapWords
			if strategy != "" {
				opts.Strategy = splitter.Strategy(strategy)
			}

			drafts, err := splitter.Split(string(content), opts)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, drafts)
			}

			rows := make([][]string, 0, len(drafts))
			totalWords := 0
			for _, draft := range drafts {
				totalWords += draft.WordCount
				rows = append(rows, []string{
					strconv.Itoa(draft.Ordinal),
					strconv.Itoa(draft.WordCount),
					string(draft.Strategy),
					yesNo(draft.HasCitation),
					fmt.Sprintf("%.2f", draft.QualityScore),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"ORD", "WORDS", "STRATEGY", "CITED", "QUALITY"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight},
			))
			fmt.Fprintf(out, "%d chunks, %d words total\n", len(drafts), totalWords)
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "Split strategy: auto, simple, paragraph, or citation")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit chunk drafts as JSON")
	return cmd
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
