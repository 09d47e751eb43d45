package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/avezina/docent/internal/research"
	"github.com/avezina/docent/internal/util"
	"github.com/avezina/docent/internal/worker"
)

var (
	batchConcurrency int
	batchOutputDir   string
	batchTimeout     time.Duration
	batchNumResults  int
	batchPreprocess  string
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Answer multiple questions from a file in parallel",
	Long: `Batch reads questions from a file (one per line, # starts a comment)
and answers them concurrently, writing one JSON answer per question.

Example:
  docent batch questions.txt
  docent batch questions.txt --concurrency 4 --output-dir ./answers
  docent batch questions.txt --preprocess compress`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", runtime.NumCPU(), "number of concurrent workers")
	batchCmd.Flags().StringVar(&batchOutputDir, "output-dir", "./docent-answers", "output directory for answers")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().IntVar(&batchNumResults, "num-results", 10, "search results per question")
	batchCmd.Flags().StringVar(&batchPreprocess, "preprocess", "", "preprocessing mode: none, compress, filter, synthesize")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
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

	if err := os.MkdirAll(batchOutputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	opts := research.AskOptions{
		NumResults:    batchNumResults,
		IncludeText:   true,
		IncludeVisual: true,
		Mode:          cfg.Preprocess.Mode,
		Threshold:     cfg.Preprocess.Threshold,
	}
	if batchPreprocess != "" {
		opts.Mode = batchPreprocess
	}

	var limiter *worker.Limiter
	if cfg.LLM.RateLimit > 0 {
		limiter = worker.NewLimiter(cfg.LLM.RateLimit, batchConcurrency)
	}

	processor := worker.NewBatchProcessor(pipeline, opts, batchConcurrency, limiter, cfg.LLM.Provider)

	fmt.Fprintf(os.Stderr, "Reading questions from %s\n", file)
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Answered %d questions with %d workers\n\n", len(results), batchConcurrency)

	successCount := 0
	failureCount := 0

	for _, result := range results {
		if result.Error != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "FAIL %q: %v\n", result.Query, result.Error)
			continue
		}
		successCount++

		path := filepath.Join(batchOutputDir, fmt.Sprintf("%03d-%s.json", result.Index+1, slugify(result.Query)))
		if err := writeAnswerJSON(path, result); err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %q: write answer: %v\n", result.Query, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "ok   %q (%d sources)\n", result.Query, len(result.Answer.Sources))
	}

	fmt.Fprintf(os.Stderr, "\nTotal: %d  Success: %d  Failures: %d  Output: %s\n",
		len(results), successCount, failureCount, batchOutputDir)

	return nil
}

func writeAnswerJSON(path string, result *worker.QuestionResult) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(result.Answer)
}

// slugify turns a question into a short filesystem-safe fragment.
func slugify(s string) string {
	s = strings.ToLower(s)
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			sb.WriteByte('-')
		}
	}
	out := strings.Trim(sb.String(), "-")
	if len(out) > 60 {
		out = out[:60]
	}
	if out == "" {
		out = "question"
	}
	return out
}
