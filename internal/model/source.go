package model

// SourceDocument represents one retrieved unit of evidence: a single page of
// a stored document, originating from either the visual (page-image) index or
// the text (chunk) index.
type SourceDocument struct {
	DocID string `json:"doc_id"`
	Page  int    `json:"page"` // 1-indexed

	// ChunkID is "{doc_id}-chunk{NNNN}" for text matches and empty for pure
	// visual matches. Emptiness is the provenance signal; IsVisual derives
	// from it and is never stored separately.
	ChunkID string `json:"chunk_id,omitempty"`

	MarkdownContent string `json:"markdown_content"`

	Filename      string `json:"filename"`
	Extension     string `json:"extension,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
	ImagePath     string `json:"image_path,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`

	SectionPath   string `json:"section_path,omitempty"`
	ParentHeading string `json:"parent_heading,omitempty"`

	// RelevanceScore is the search-stage similarity, 0-1.
	RelevanceScore float64 `json:"relevance_score"`
}

// IsVisual reports whether the source came from the visual index.
func (s SourceDocument) IsVisual() bool {
	return s.ChunkID == ""
}

// WithContent returns a copy with the markdown content replaced. All other
// fields are carried over unchanged, so the IsVisual derivation is preserved.
func (s SourceDocument) WithContent(content string) SourceDocument {
	s.MarkdownContent = content
	return s
}

// ResearchContext is the assembled prompt payload for one query. Source list
// order defines citation numbering: Sources[0] is citation [1].
type ResearchContext struct {
	FormattedText string           `json:"formatted_text"`
	Sources       []SourceDocument `json:"sources"`
	TotalTokens   int              `json:"total_tokens"`
	Truncated     bool             `json:"truncated"`
}

// EstimateTokens approximates the token count of text using the common
// chars/4 heuristic. Good enough for budget decisions; never used for billing.
func EstimateTokens(text string) int {
	return len(text) / 4
}
