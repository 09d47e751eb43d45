package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/avezina/docent/internal/research"
	"github.com/avezina/docent/internal/util"
)

var (
	askNumResults int
	askTextOnly   bool
	askVisualOnly bool
	askPreprocess string
	askThreshold  float64
	askTimeout    time.Duration
	askJSON       bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed documents",
	Long: `Ask retrieves relevant pages and chunks, builds a numbered source
context, and asks the foundation model for a cited answer.

Example:
  docent ask "what is the notice period in the lease?"
  docent ask "who signed the 2023 amendment?" --num-results 5 --preprocess filter --threshold 7
  docent ask "summarize the warranty terms" --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().IntVar(&askNumResults, "num-results", 10, "number of search results to retrieve")
	askCmd.Flags().BoolVar(&askTextOnly, "text-only", false, "search text chunks only")
	askCmd.Flags().BoolVar(&askVisualOnly, "visual-only", false, "search visual pages only")
	askCmd.Flags().StringVar(&askPreprocess, "preprocess", "", "preprocessing mode: none, compress, filter, synthesize")
	askCmd.Flags().Float64Var(&askThreshold, "threshold", 5.0, "relevance cutoff 0-10 for filter mode")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 3*time.Minute, "overall request timeout")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full answer as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := util.NewLogger(verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	pipeline, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	opts := research.AskOptions{
		NumResults:    askNumResults,
		IncludeText:   !askVisualOnly,
		IncludeVisual: !askTextOnly,
		Mode:          cfg.Preprocess.Mode,
		Threshold:     askThreshold,
	}
	if askPreprocess != "" {
		opts.Mode = askPreprocess
	}

	answer, err := pipeline.Ask(ctx, query, opts)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}

	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, src := range answer.Sources {
			kind := "text"
			if src.IsVisual {
				kind = "visual"
			}
			fmt.Printf("  [%d] %s, page %d (%s, score %.2f)\n",
				src.Number, src.Filename, src.Page, kind, src.Score)
		}
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "\nsearch: %.0fms  total: %.0fms  tokens: %d\n",
			answer.SearchMS, answer.TotalMS, answer.TokensUsed)
	}

	return nil
}
