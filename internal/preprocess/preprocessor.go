// Package preprocess runs local-model passes over retrieved sources before
// the foundation-model call: compression, relevance filtering, and
// synthesis. Every strategy degrades to a safe fallback on transient model
// failure instead of failing the query.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/avezina/docent/internal/harmony"
	"github.com/avezina/docent/internal/llm"
	"github.com/avezina/docent/internal/model"
)

const (
	// minCompressChars is the smallest chunk worth a compression call.
	minCompressChars = 400
	// visualAutoScore is assigned to visual sources without an LLM call;
	// visual evidence is never filtered out.
	visualAutoScore = 9.0
	// neutralScore stands in for an unparseable relevance response.
	neutralScore = 5.0
	// synthesisTokenLimit fails a synthesis request before the LLM call;
	// no graceful shrink is defined for oversized input.
	synthesisTokenLimit = 10000
)

const compressSystem = "You extract facts. Respond with a JSON object " +
	`{"facts": "..."} containing only the facts from the text that are ` +
	"relevant to the question. No commentary."

const scoreSystem = "You rate relevance. Respond with a JSON object " +
	`{"score": N} where N is 0-10: how relevant the text is to the ` +
	"question. No commentary."

const synthesisSystem = "You synthesize research notes. Combine the " +
	"numbered chunks into a thematic summary. Keep the [N] citation " +
	"markers next to every fact you carry over."

// Preprocessor applies one of the three strategies to assembled sources.
type Preprocessor struct {
	client        llm.Client
	maxConcurrent int
	logger        *zap.Logger
}

// NewPreprocessor creates a preprocessor bound to a local-model client.
func NewPreprocessor(client llm.Client, maxConcurrent int, logger *zap.Logger) *Preprocessor {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Preprocessor{
		client:        client,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// ValidateCompression accepts a compressed result only when it is strictly
// shorter than the original. Guards against model expansion pathologies.
func ValidateCompression(compressed, original string) bool {
	return len(compressed) < len(original)
}

// CompressChunks replaces each eligible source's content with a compressed
// fact extraction. Visual sources and short chunks pass through unchanged;
// list position and metadata are always preserved. Eligible sources are
// processed concurrently, each with its own failure capture, so one slow or
// failing chunk never corrupts its siblings. Returns new values; inputs are
// not mutated.
func (p *Preprocessor) CompressChunks(ctx context.Context, query string, sources []model.SourceDocument) ([]model.SourceDocument, error) {
	out := make([]model.SourceDocument, len(sources))
	copy(out, sources)

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.maxConcurrent)
	errs := make([]error, len(sources))

	for i := range out {
		if out[i].IsVisual() || len(out[i].MarkdownContent) < minCompressChars {
			continue
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			compressed, err := p.compressOne(ctx, query, out[idx].MarkdownContent)
			if err != nil {
				errs[idx] = err
				return
			}
			out[idx] = out[idx].WithContent(compressed)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		if fatal := p.classifyFallback(err); fatal != nil {
			return nil, fatal
		}
		p.logger.Warn("compression fell back to original content",
			zap.String("doc_id", sources[i].DocID),
			zap.Int("page", sources[i].Page),
			zap.Error(err))
	}

	return out, nil
}

func (p *Preprocessor) compressOne(ctx context.Context, query, content string) (string, error) {
	prompt := fmt.Sprintf("Question: %s\n\nText:\n%s", query, content)

	resp, err := p.client.Complete(ctx, llm.Request{
		Prompt:        prompt,
		SystemMessage: compressSystem,
	})
	if err != nil {
		return "", err
	}

	payload := harmony.ParseFacts(resp.Content, content)
	if !ValidateCompression(payload.Facts, content) {
		// Model expanded instead of compressing; keep the original.
		return content, nil
	}
	return payload.Facts, nil
}

// FilterByRelevance scores every source against the query and keeps those at
// or above threshold, re-sorted descending by score. Visual sources score
// visualAutoScore without an LLM call; unparseable responses score
// neutralScore. An out-of-range threshold is a caller contract violation and
// fails immediately.
func (p *Preprocessor) FilterByRelevance(ctx context.Context, query string, sources []model.SourceDocument, threshold float64) ([]model.SourceDocument, error) {
	if threshold < 0 || threshold > 10 {
		return nil, fmt.Errorf("relevance threshold %.2f out of range [0, 10]", threshold)
	}

	scores := make([]float64, len(sources))
	errs := make([]error, len(sources))

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.maxConcurrent)

	for i := range sources {
		if sources[i].IsVisual() {
			scores[i] = visualAutoScore
			continue
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			scores[idx], errs[idx] = p.scoreOne(ctx, query, sources[idx].MarkdownContent)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		if fatal := p.classifyFallback(err); fatal != nil {
			return nil, fatal
		}
		scores[i] = neutralScore
		p.logger.Warn("relevance scoring fell back to neutral",
			zap.String("doc_id", sources[i].DocID),
			zap.Int("page", sources[i].Page),
			zap.Error(err))
	}

	type scored struct {
		src   model.SourceDocument
		score float64
	}
	var kept []scored
	for i, src := range sources {
		if scores[i] >= threshold {
			kept = append(kept, scored{src: src, score: scores[i]})
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].score > kept[j].score
	})

	out := make([]model.SourceDocument, len(kept))
	for i, s := range kept {
		out[i] = s.src
	}
	return out, nil
}

func (p *Preprocessor) scoreOne(ctx context.Context, query, content string) (float64, error) {
	prompt := fmt.Sprintf("Question: %s\n\nText:\n%s", query, content)

	resp, err := p.client.Complete(ctx, llm.Request{
		Prompt:        prompt,
		SystemMessage: scoreSystem,
	})
	if err != nil {
		return 0, err
	}

	return harmony.ParseScore(resp.Content).Score, nil
}

// SynthesizeKnowledge combines all sources into one numbered-chunk block and
// asks the local model for a thematic synthesis that preserves [N] markers.
// Input over synthesisTokenLimit tokens fails fast with a context-length
// error before any LLM call; that signals caller-level misuse, not a
// transient failure. A transient model failure degrades to the raw
// numbered-chunk text.
func (p *Preprocessor) SynthesizeKnowledge(ctx context.Context, query string, sources []model.SourceDocument) (string, error) {
	block := FormatNumberedChunks(sources)

	estimate := model.EstimateTokens(block)
	if estimate > synthesisTokenLimit {
		return "", &llm.ContextLengthError{
			Provider:  p.client.Name(),
			MaxTokens: synthesisTokenLimit,
			Overage:   estimate - synthesisTokenLimit,
		}
	}

	prompt := fmt.Sprintf("Question: %s\n\nChunks:\n%s", query, block)

	resp, err := p.client.Complete(ctx, llm.Request{
		Prompt:        prompt,
		SystemMessage: synthesisSystem,
	})
	if err != nil {
		if fatal := p.classifyFallback(err); fatal != nil {
			return "", fatal
		}
		p.logger.Warn("synthesis fell back to raw chunk text", zap.Error(err))
		return block, nil
	}

	text := strings.TrimSpace(harmony.FinalText(resp.Content))
	if text == "" {
		return block, nil
	}
	return text, nil
}

// FormatNumberedChunks renders sources as the numbered block synthesis
// consumes. Numbering matches context citation numbering.
func FormatNumberedChunks(sources []model.SourceDocument) string {
	var sb strings.Builder
	for i, src := range sources {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("[%d] %s, page %d:\n%s", i+1, src.Filename, src.Page, src.MarkdownContent))
	}
	return sb.String()
}

// classifyFallback returns nil when the error may be absorbed by the
// strategy's fallback path, or the error itself when it must propagate.
// Transient failures and per-chunk context overflows are absorbable;
// authentication failures are configuration problems the caller must see.
func (p *Preprocessor) classifyFallback(err error) error {
	var authErr *llm.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	var ctxErr *llm.ContextLengthError
	if llm.IsTransient(err) || errors.As(err, &ctxErr) {
		return nil
	}
	return err
}
