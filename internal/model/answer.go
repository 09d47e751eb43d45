package model

// Citation is one inline [N] marker occurrence in generated text. Repeated
// markers produce distinct Citation values.
type Citation struct {
	ID         int    `json:"id"` // 1-indexed source number
	StartPos   int    `json:"start_pos"`
	EndPos     int    `json:"end_pos"`
	MarkerText string `json:"marker_text"` // e.g. "[3]"
}

// Sentence is one non-overlapping span of the answer text together with the
// citations that fall inside it.
type Sentence struct {
	Text      string     `json:"text"`
	StartPos  int        `json:"start_pos"`
	EndPos    int        `json:"end_pos"`
	Citations []Citation `json:"citations"`
}

// ParsedAnswer aggregates the citation analysis of one LLM answer. Both
// indexes are rebuilt in full on every parse.
type ParsedAnswer struct {
	OriginalText string     `json:"original_text"`
	CleanText    string     `json:"clean_text"`
	Citations    []Citation `json:"citations"`
	Sentences    []Sentence `json:"sentences"`

	// CitationToSentences maps a citation id to every sentence containing it,
	// in sentence order. SentenceToCitations maps a sentence index to the
	// citations inside that sentence.
	CitationToSentences map[int][]Sentence `json:"-"`
	SentenceToCitations map[int][]Citation `json:"-"`
}

// Answer is the final assembled result of one research query.
type Answer struct {
	RequestID string        `json:"request_id"`
	Query     string        `json:"query"`
	Text      string        `json:"text"`
	Parsed    *ParsedAnswer `json:"parsed,omitempty"`

	Sources    []AnswerSource `json:"sources"`
	Truncated  bool           `json:"context_truncated"`
	Model      string         `json:"model,omitempty"`
	SearchMS   float64        `json:"search_time_ms"`
	TotalMS    float64        `json:"total_time_ms"`
	TokensUsed int            `json:"tokens_used"`
}

// AnswerSource is the per-source presentation row returned with an answer.
// Number matches the [N] citation markers in the answer text.
type AnswerSource struct {
	Number        int     `json:"number"`
	DocID         string  `json:"doc_id"`
	Page          int     `json:"page"`
	Filename      string  `json:"filename"`
	IsVisual      bool    `json:"is_visual"`
	Score         float64 `json:"score"`
	ThumbnailPath string  `json:"thumbnail_path,omitempty"`
	URL           string  `json:"url"`
}
