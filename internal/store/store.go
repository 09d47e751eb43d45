// Package store provides typed access to per-document metadata and stored
// markdown. Raw payload maps from the index are parsed and validated here,
// at the boundary; nothing downstream sees an untyped map.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/avezina/docent/internal/chunk"
	"go.uber.org/zap"
)

var (
	// ErrDocNotFound means no metadata exists for the document.
	ErrDocNotFound = errors.New("document not found")
	// ErrNoContent means the document has neither a markdown file nor
	// inline text.
	ErrNoContent = errors.New("document has no stored content")
)

// Store is the metadata lookup surface the context builder consumes.
type Store interface {
	// PageMeta returns the typed metadata for one (doc, page) pair.
	PageMeta(ctx context.Context, docID string, page int) (*PageMeta, error)

	// DocMarkdown returns the full stored markdown of a document.
	DocMarkdown(ctx context.Context, docID string) (string, error)
}

// PageMeta is the validated metadata for one page of a stored document.
type PageMeta struct {
	DocID         string
	Page          int
	Filename      string
	Extension     string
	ChunkID       string // canonical "{doc_id}-chunk{NNNN}", "" for visual-only
	ThumbnailPath string
	ImagePath     string
	Timestamp     string
	SectionPath   string
	ParentHeading string

	// MarkdownPath points at the stored markdown file; FullText carries
	// inline content when no file exists. At least one should be set for
	// text retrieval to work.
	MarkdownPath string
	FullText     string
}

// ParsePageMeta validates a raw payload map into a PageMeta. Unknown keys
// are ignored; absent optional keys yield zero values. Returns an error only
// when identity fields are unusable, never for missing presentation fields.
func ParsePageMeta(raw map[string]any, docID string, page int, logger *zap.Logger) (*PageMeta, error) {
	if docID == "" {
		return nil, fmt.Errorf("parse page meta: empty doc id")
	}
	if page < 1 {
		return nil, fmt.Errorf("parse page meta: page %d is not 1-indexed", page)
	}

	meta := &PageMeta{
		DocID:         docID,
		Page:          page,
		Filename:      stringKey(raw, "filename"),
		Timestamp:     stringKey(raw, "timestamp"),
		SectionPath:   stringKey(raw, "section_path"),
		ParentHeading: stringKey(raw, "parent_heading"),
		MarkdownPath:  stringKey(raw, "markdown_path"),
		FullText:      stringKey(raw, "full_text"),
		ImagePath:     stringKey(raw, "image_path"),
	}

	// Audio documents store album art where others store a page thumbnail.
	meta.ThumbnailPath = stringKey(raw, "thumb_path")
	if meta.ThumbnailPath == "" {
		meta.ThumbnailPath = stringKey(raw, "album_art_path")
	}

	meta.Extension = stringKey(raw, "extension")
	if meta.Extension == "" {
		meta.Extension = stringKey(raw, "format")
	}

	meta.ChunkID = chunk.ExtractChunkID(raw, docID, logger)

	if meta.Filename == "" {
		meta.Filename = docID
	}

	return meta, nil
}

func stringKey(raw map[string]any, key string) string {
	if v, ok := raw[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
