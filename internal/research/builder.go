// Package research assembles retrieved sources into a citation-numbered LLM
// context and orchestrates the full query pipeline around it.
package research

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/avezina/docent/internal/chunk"
	"github.com/avezina/docent/internal/model"
	"github.com/avezina/docent/internal/navurl"
	"github.com/avezina/docent/internal/search"
	"github.com/avezina/docent/internal/store"
)

// NoResultsText is the sentinel context body for a query with no hits.
const NoResultsText = "No relevant documents found."

// separatorTokens is the fixed per-source allowance for the blank lines and
// link line each source adds around its block.
const separatorTokens = 5

// minShadowContentChars is the smallest visual-match text worth shadowing as
// a synthetic text source in hybrid mode.
const minShadowContentChars = 100

// pageMarkerPattern matches the page boundary comments the ingestion
// pipeline writes into stored markdown.
var pageMarkerPattern = regexp.MustCompile(`(?mi)^<!--\s*page[:\s]+(\d+)\s*-->\s*$`)

// paragraphsPerPage is the fallback heuristic when stored markdown has no
// page markers.
const paragraphsPerPage = 3

// Builder assembles research contexts from search results.
type Builder struct {
	engine search.Engine
	store  store.Store
	config model.ContextConfig
	logger *zap.Logger
}

// NewBuilder creates a context builder.
func NewBuilder(engine search.Engine, st store.Store, cfg model.ContextConfig, logger *zap.Logger) *Builder {
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 10000
	}
	return &Builder{
		engine: engine,
		store:  st,
		config: cfg,
		logger: logger,
	}
}

// BuildContext retrieves, deduplicates, fetches, formats, and budgets the
// sources for one query. A query with zero surviving sources returns the
// sentinel context rather than an error; a single bad source is skipped,
// never fatal.
func (b *Builder) BuildContext(ctx context.Context, query string, numResults int, includeText, includeVisual bool) (*model.ResearchContext, error) {
	mode := search.ModeFor(includeText, includeVisual)

	resp, err := b.engine.Search(ctx, query, numResults, mode)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	deduped := DedupResults(resp.Results)

	// Cap before fetching content so sources that can never be used cost no
	// I/O.
	if len(deduped) > b.config.MaxSources {
		deduped = deduped[:b.config.MaxSources]
	}

	var sources []model.SourceDocument
	for _, r := range deduped {
		src, err := b.buildSource(ctx, r)
		if err != nil {
			b.logger.Warn("skipping source",
				zap.String("doc_id", r.DocID),
				zap.Int("page", r.Page),
				zap.Error(err))
			continue
		}
		sources = append(sources, *src)

		// Hybrid text-shadow rule: a visual match with real extractable text
		// also gets a synthetic text source for the same page, so a later
		// preprocessing pass can compress the text while the image stays
		// available to the foundation model.
		if mode == search.ModeHybrid && src.IsVisual() && len(src.MarkdownContent) >= minShadowContentChars {
			shadow := *src
			shadow.ChunkID = fmt.Sprintf("%s-page%d", src.DocID, src.Page)
			sources = append(sources, shadow)
		}
	}

	return b.Assemble(sources), nil
}

// Assemble formats sources into a research context and enforces the token
// budget. Runs again after a preprocessing pass rewrites source content, so
// budgeting always sees the final text.
func (b *Builder) Assemble(sources []model.SourceDocument) *model.ResearchContext {
	if len(sources) == 0 {
		return &model.ResearchContext{
			FormattedText: NoResultsText,
			Sources:       []model.SourceDocument{},
			TotalTokens:   model.EstimateTokens(NoResultsText),
			Truncated:     false,
		}
	}

	formatted := b.formatContext(sources)
	truncated := false
	if model.EstimateTokens(formatted) > b.config.MaxTokens {
		// Per-block cost flooring can keep every source even when the
		// whole-text estimate overshoots by a token or two; only an actual
		// drop counts as truncation.
		kept := b.TruncateToBudget(sources)
		truncated = len(kept) < len(sources)
		sources = kept
		formatted = b.formatContext(sources)
	}

	return &model.ResearchContext{
		FormattedText: formatted,
		Sources:       sources,
		TotalTokens:   model.EstimateTokens(formatted),
		Truncated:     truncated,
	}
}

// DedupResults collapses hits sharing (doc_id, page), keeping the higher
// score. Ties keep the first-seen hit, so the result is stable with respect
// to search-engine order. The output is sorted by score descending,
// first-seen order breaking equal scores.
func DedupResults(results []search.Result) []search.Result {
	byKey := make(map[string]*search.Result, len(results))
	var keys []string
	for i := range results {
		r := results[i]
		key := fmt.Sprintf("%s|%d", r.DocID, r.Page)
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = &r
			keys = append(keys, key)
			continue
		}
		// Strict > keeps the first-seen hit on equal scores.
		if r.Score > existing.Score {
			*existing = r
		}
	}

	deduped := make([]search.Result, 0, len(keys))
	for _, key := range keys {
		deduped = append(deduped, *byKey[key])
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score > deduped[j].Score
	})
	return deduped
}

// buildSource fetches metadata and page content for one deduplicated hit.
func (b *Builder) buildSource(ctx context.Context, r search.Result) (*model.SourceDocument, error) {
	meta, err := b.store.PageMeta(ctx, r.DocID, r.Page)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}

	// A hit whose payload has no chunk_id key came from the visual index;
	// that absence is the provenance signal and must survive even when the
	// store metadata happens to carry a chunk id for the page. The store
	// fallback only repairs text hits whose payload value failed coercion.
	chunkID := chunk.ExtractChunkID(r.Metadata, r.DocID, b.logger)
	if chunkID == "" {
		if _, hasKey := r.Metadata["chunk_id"]; hasKey {
			chunkID = meta.ChunkID
		}
	}

	content, err := b.pageContent(ctx, meta, r.Page)
	if err != nil {
		// Visual sources work without text; log and carry on.
		b.logger.Debug("no text content for source",
			zap.String("doc_id", r.DocID),
			zap.Int("page", r.Page),
			zap.Error(err))
		content = ""
	}

	return &model.SourceDocument{
		DocID:           r.DocID,
		Page:            r.Page,
		ChunkID:         chunkID,
		MarkdownContent: content,
		Filename:        meta.Filename,
		Extension:       meta.Extension,
		ThumbnailPath:   meta.ThumbnailPath,
		ImagePath:       meta.ImagePath,
		Timestamp:       meta.Timestamp,
		SectionPath:     meta.SectionPath,
		ParentHeading:   meta.ParentHeading,
		RelevanceScore:  r.Score,
	}, nil
}

// pageContent extracts the markdown for one page of a document, preferring
// explicit page markers and falling back to a paragraph-count heuristic.
func (b *Builder) pageContent(ctx context.Context, meta *store.PageMeta, page int) (string, error) {
	full, err := b.store.DocMarkdown(ctx, meta.DocID)
	if err != nil {
		if meta.FullText != "" {
			return meta.FullText, nil
		}
		return "", err
	}
	return ExtractPageMarkdown(full, page), nil
}

// ExtractPageMarkdown returns the slice of full-document markdown belonging
// to page. With page markers present the marked region is returned; without
// them roughly paragraphsPerPage paragraphs are attributed to each page.
func ExtractPageMarkdown(full string, page int) string {
	matches := pageMarkerPattern.FindAllStringSubmatchIndex(full, -1)
	if len(matches) > 0 {
		for i, m := range matches {
			n := 0
			fmt.Sscanf(full[m[2]:m[3]], "%d", &n)
			if n != page {
				continue
			}
			start := m[1]
			end := len(full)
			if i+1 < len(matches) {
				end = matches[i+1][0]
			}
			return strings.TrimSpace(full[start:end])
		}
		return ""
	}

	// No markers: attribute ~paragraphsPerPage paragraphs to each page.
	paragraphs := splitParagraphs(full)
	start := (page - 1) * paragraphsPerPage
	if start >= len(paragraphs) {
		return ""
	}
	end := start + paragraphsPerPage
	if end > len(paragraphs) {
		end = len(paragraphs)
	}
	return strings.TrimSpace(strings.Join(paragraphs[start:end], "\n\n"))
}

func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs = append(paragraphs, strings.TrimSpace(p))
		}
	}
	return paragraphs
}

// formatContext renders the numbered citation blocks plus the trailing
// SOURCE LINKS section. Source list order defines citation numbering.
func (b *Builder) formatContext(sources []model.SourceDocument) string {
	var sb strings.Builder

	for i, src := range sources {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(formatSourceBlock(i+1, src))
	}

	sb.WriteString("\n\nSOURCE LINKS:\n")
	for i, src := range sources {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, b.sourceURL(src)))
	}

	return sb.String()
}

// formatSourceBlock renders one citation block. Also the unit of cost
// accounting for budget truncation.
func formatSourceBlock(number int, src model.SourceDocument) string {
	var sb strings.Builder
	if src.IsVisual() {
		sb.WriteString("[Visual Match] ")
	}
	sb.WriteString(fmt.Sprintf("[Document %d: %s, Page %d]\n", number, src.Filename, src.Page))
	sb.WriteString(src.MarkdownContent)
	return sb.String()
}

func (b *Builder) sourceURL(src model.SourceDocument) string {
	return navurl.DetailsURL(b.config.BaseURL, src.DocID, src.Page, src.ChunkID, src.Extension, b.config.BaseURL != "")
}

// TruncateToBudget greedily keeps sources in existing order, accumulating
// each block's token cost plus the fixed separator allowance, and stops at
// the first source that would overflow. Sources past the cutoff are dropped
// entirely, never partially included.
func (b *Builder) TruncateToBudget(sources []model.SourceDocument) []model.SourceDocument {
	kept := make([]model.SourceDocument, 0, len(sources))
	used := 0
	for i, src := range sources {
		cost := model.EstimateTokens(formatSourceBlock(i+1, src)) +
			model.EstimateTokens(b.sourceURL(src)) + separatorTokens
		if used+cost > b.config.MaxTokens {
			break
		}
		used += cost
		kept = append(kept, src)
	}
	return kept
}
