package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avezina/docent/internal/citation"
	"github.com/avezina/docent/internal/llm"
	"github.com/avezina/docent/internal/model"
	"github.com/avezina/docent/internal/preprocess"
)

// Preprocess modes accepted by AskOptions.
const (
	ModeNone       = "none"
	ModeCompress   = "compress"
	ModeFilter     = "filter"
	ModeSynthesize = "synthesize"
)

const answerSystem = "You are a research assistant. Answer the question " +
	"using ONLY the numbered sources provided. Cite every factual claim " +
	"with its source number in square brackets, e.g. [1] or [2]. Never " +
	"cite a number that is not in the sources. If the sources do not " +
	"answer the question, say so."

// Pipeline runs the full query flow: context assembly, optional local
// preprocessing, the foundation-model call, and citation parsing.
type Pipeline struct {
	builder      *Builder
	preprocessor *preprocess.Preprocessor // nil when no local model is configured
	foundation   llm.Client
	logger       *zap.Logger
}

// NewPipeline wires a pipeline from its collaborators. preprocessor may be
// nil; preprocessing requests then fall back to mode "none".
func NewPipeline(builder *Builder, preprocessor *preprocess.Preprocessor, foundation llm.Client, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		builder:      builder,
		preprocessor: preprocessor,
		foundation:   foundation,
		logger:       logger,
	}
}

// AskOptions selects retrieval and preprocessing behavior for one query.
type AskOptions struct {
	NumResults    int
	IncludeText   bool
	IncludeVisual bool
	// Mode is one of ModeNone, ModeCompress, ModeFilter, ModeSynthesize.
	Mode string
	// Threshold is the 0-10 relevance cutoff for ModeFilter.
	Threshold float64
}

// Ask answers one query with cited sources. LLM failures after sources were
// found propagate with their taxonomy type intact so the transport layer can
// map them to status semantics; a query with zero sources returns a
// well-formed no-results answer instead.
func (p *Pipeline) Ask(ctx context.Context, query string, opts AskOptions) (*model.Answer, error) {
	start := time.Now()
	requestID := uuid.NewString()

	if opts.NumResults <= 0 {
		opts.NumResults = 10
	}
	if !opts.IncludeText && !opts.IncludeVisual {
		opts.IncludeText = true
	}

	searchStart := time.Now()
	rc, err := p.builder.BuildContext(ctx, query, opts.NumResults, opts.IncludeText, opts.IncludeVisual)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	answer := &model.Answer{
		RequestID: requestID,
		Query:     query,
		Truncated: rc.Truncated,
		SearchMS:  msSince(searchStart),
	}

	if len(rc.Sources) == 0 {
		answer.Text = NoResultsText
		answer.Sources = []model.AnswerSource{}
		answer.TotalMS = msSince(start)
		return answer, nil
	}

	rc, err = p.applyPreprocessing(ctx, query, rc, opts)
	if err != nil {
		return nil, err
	}
	answer.Truncated = answer.Truncated || rc.Truncated

	prompt := fmt.Sprintf("%s\n\nQuestion: %s", rc.FormattedText, query)
	resp, err := p.foundation.Complete(ctx, llm.Request{
		Prompt:        prompt,
		SystemMessage: answerSystem,
	})
	if err != nil {
		// Keep the taxonomy type visible to callers.
		return nil, err
	}

	answer.Text = resp.Content
	answer.Model = resp.Model
	answer.TokensUsed = resp.Usage.TotalTokens

	parsed, err := citation.Parse(resp.Content, len(rc.Sources))
	if err != nil {
		// The model cited a source number that does not exist. An answer
		// with unverifiable citations never leaves the pipeline; the raw
		// text stays in the log for diagnosis.
		p.logger.Warn("citation validation failed",
			zap.String("answer_text", resp.Content),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, fmt.Errorf("answer cited unknown sources: %w", err)
	}
	answer.Parsed = parsed

	answer.Sources = make([]model.AnswerSource, 0, len(rc.Sources))
	for i, src := range rc.Sources {
		answer.Sources = append(answer.Sources, model.AnswerSource{
			Number:        i + 1,
			DocID:         src.DocID,
			Page:          src.Page,
			Filename:      src.Filename,
			IsVisual:      src.IsVisual(),
			Score:         src.RelevanceScore,
			ThumbnailPath: src.ThumbnailPath,
			URL:           p.builder.sourceURL(src),
		})
	}

	answer.TotalMS = msSince(start)
	p.logger.Info("query answered",
		zap.String("request_id", requestID),
		zap.Int("sources", len(answer.Sources)),
		zap.Int("citations", len(parsed.Citations)),
		zap.Float64("total_ms", answer.TotalMS))

	return answer, nil
}

// applyPreprocessing runs the selected local-model pass and reassembles the
// context when source content changed. Synthesis replaces the formatted text
// wholesale; the source list stays for citation numbering.
func (p *Pipeline) applyPreprocessing(ctx context.Context, query string, rc *model.ResearchContext, opts AskOptions) (*model.ResearchContext, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeNone
	}
	if mode == ModeNone {
		return rc, nil
	}
	if p.preprocessor == nil {
		p.logger.Warn("preprocessing requested but no local model configured",
			zap.String("mode", mode))
		return rc, nil
	}

	switch mode {
	case ModeCompress:
		sources, err := p.preprocessor.CompressChunks(ctx, query, rc.Sources)
		if err != nil {
			return nil, fmt.Errorf("compress chunks: %w", err)
		}
		out := p.builder.Assemble(sources)
		out.Truncated = out.Truncated || rc.Truncated
		return out, nil

	case ModeFilter:
		sources, err := p.preprocessor.FilterByRelevance(ctx, query, rc.Sources, opts.Threshold)
		if err != nil {
			return nil, fmt.Errorf("filter by relevance: %w", err)
		}
		out := p.builder.Assemble(sources)
		out.Truncated = out.Truncated || rc.Truncated
		return out, nil

	case ModeSynthesize:
		text, err := p.preprocessor.SynthesizeKnowledge(ctx, query, rc.Sources)
		if err != nil {
			return nil, fmt.Errorf("synthesize knowledge: %w", err)
		}
		return &model.ResearchContext{
			FormattedText: text,
			Sources:       rc.Sources,
			TotalTokens:   model.EstimateTokens(text),
			Truncated:     rc.Truncated,
		}, nil

	default:
		return nil, fmt.Errorf("unknown preprocess mode: %s (supported: %s)",
			mode, strings.Join([]string{ModeNone, ModeCompress, ModeFilter, ModeSynthesize}, ", "))
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
