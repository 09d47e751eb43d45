package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/avezina/docent/internal/model"
	"github.com/avezina/docent/internal/research"
)

// Asker answers a single query with cited sources.
type Asker interface {
	Ask(ctx context.Context, query string, opts research.AskOptions) (*model.Answer, error)
}

// QuestionJob answers one question through the pipeline.
type QuestionJob struct {
	Index    int
	Query    string
	Asker    Asker
	Options  research.AskOptions
	Limiter  *Limiter
	Provider string
}

// Execute runs the job. A per-question failure lands in the result, never
// aborts the batch.
func (j *QuestionJob) Execute(ctx context.Context) Result {
	if j.Limiter != nil {
		if err := j.Limiter.Wait(ctx, j.Provider); err != nil {
			return &QuestionResult{Index: j.Index, Query: j.Query, Error: err}
		}
	}

	answer, err := j.Asker.Ask(ctx, j.Query, j.Options)
	return &QuestionResult{
		Index:  j.Index,
		Query:  j.Query,
		Answer: answer,
		Error:  err,
	}
}

// QuestionResult is the outcome of one batch question.
type QuestionResult struct {
	Index  int
	Query  string
	Answer *model.Answer
	Error  error
}

func (r *QuestionResult) Err() error { return r.Error }

// BatchProcessor answers many questions concurrently while keeping the
// input order in the output.
type BatchProcessor struct {
	asker       Asker
	options     research.AskOptions
	concurrency int
	limiter     *Limiter
	provider    string
}

// NewBatchProcessor creates a batch processor. limiter may be nil to run
// unpaced.
func NewBatchProcessor(asker Asker, opts research.AskOptions, concurrency int, limiter *Limiter, provider string) *BatchProcessor {
	return &BatchProcessor{
		asker:       asker,
		options:     opts,
		concurrency: concurrency,
		limiter:     limiter,
		provider:    provider,
	}
}

// ProcessQuestions answers every question and returns results in input
// order.
func (b *BatchProcessor) ProcessQuestions(ctx context.Context, questions []string) []*QuestionResult {
	if len(questions) == 0 {
		return []*QuestionResult{}
	}

	pool := NewPoolContext(ctx, b.concurrency)
	pool.Start()

	for i, q := range questions {
		pool.Submit(&QuestionJob{
			Index:    i,
			Query:    q,
			Asker:    b.asker,
			Options:  b.options,
			Limiter:  b.limiter,
			Provider: b.provider,
		})
	}

	raw := pool.Wait()

	results := make([]*QuestionResult, 0, len(raw))
	for _, r := range raw {
		results = append(results, r.(*QuestionResult))
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	return results
}

// ProcessFile reads questions from a file and answers them concurrently.
func (b *BatchProcessor) ProcessFile(ctx context.Context, path string) ([]*QuestionResult, error) {
	questions, err := ReadQuestionsFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}

	return b.ProcessQuestions(ctx, questions), nil
}

// ReadQuestionsFromFile reads one question per line, skipping blank lines,
// comments, and exact duplicates.
func ReadQuestionsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var questions []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			questions = append(questions, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return questions, nil
}
