// Package search defines the retrieval surface the context builder consumes
// and a Qdrant-backed implementation over the two-collection (visual pages +
// text chunks) index.
package search

import "context"

// Mode selects which indexes a query draws from.
type Mode string

const (
	ModeHybrid     Mode = "hybrid"
	ModeVisualOnly Mode = "visual_only"
	ModeTextOnly   Mode = "text_only"
)

// ModeFor maps the include flags onto a search mode.
func ModeFor(includeText, includeVisual bool) Mode {
	switch {
	case includeText && includeVisual:
		return ModeHybrid
	case includeVisual:
		return ModeVisualOnly
	default:
		return ModeTextOnly
	}
}

// Result is one raw search hit. Metadata carries the index payload for the
// hit; visual hits have no chunk_id key.
type Result struct {
	DocID    string         `json:"doc_id"`
	Page     int            `json:"page"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Response is one completed search.
type Response struct {
	Results     []Result `json:"results"`
	TotalTimeMS float64  `json:"total_time_ms"`
}

// Engine is the retrieval interface.
type Engine interface {
	Search(ctx context.Context, query string, nResults int, mode Mode) (*Response, error)
}
