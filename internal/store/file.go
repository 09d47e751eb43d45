package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// FileStore reads document metadata and markdown from a directory tree:
//
//	{root}/{doc_id}/metadata.json
//	{root}/{doc_id}/content.md
//
// metadata.json carries doc-level fields plus optional per-page overrides.
// Parsed metadata and markdown are cached with a TTL so repeated context
// builds against the same documents avoid disk reads.
type FileStore struct {
	root   string
	cache  *gocache.Cache
	logger *zap.Logger
}

// docMetaFile is the on-disk shape of metadata.json.
type docMetaFile struct {
	Doc   map[string]any            `json:"doc"`
	Pages map[string]map[string]any `json:"pages,omitempty"`
}

// NewFileStore creates a store rooted at dir with the given cache TTL.
func NewFileStore(dir string, cacheTTL time.Duration, logger *zap.Logger) *FileStore {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &FileStore{
		root:   dir,
		cache:  gocache.New(cacheTTL, 2*cacheTTL),
		logger: logger,
	}
}

// PageMeta returns the typed metadata for one (doc, page) pair. Page-level
// entries override doc-level fields.
func (s *FileStore) PageMeta(ctx context.Context, docID string, page int) (*PageMeta, error) {
	meta, err := s.docMeta(ctx, docID)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]any, len(meta.Doc))
	for k, v := range meta.Doc {
		raw[k] = v
	}
	if overrides, ok := meta.Pages[strconv.Itoa(page)]; ok {
		for k, v := range overrides {
			raw[k] = v
		}
	}

	parsed, err := ParsePageMeta(raw, docID, page, s.logger)
	if err != nil {
		return nil, err
	}

	// Inline text sometimes carries embedded markup from office converters.
	if parsed.FullText != "" {
		parsed.FullText = StripHTML(parsed.FullText)
	}
	return parsed, nil
}

// DocMarkdown returns the full stored markdown of a document.
func (s *FileStore) DocMarkdown(ctx context.Context, docID string) (string, error) {
	key := "md:" + docID
	if cached, ok := s.cache.Get(key); ok {
		return cached.(string), nil
	}

	path := filepath.Join(s.root, docID, "content.md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Fall back to inline full_text from metadata.
			meta, metaErr := s.docMeta(ctx, docID)
			if metaErr == nil {
				if text := stringKey(meta.Doc, "full_text"); text != "" {
					clean := StripHTML(text)
					s.cache.SetDefault(key, clean)
					return clean, nil
				}
			}
			return "", fmt.Errorf("%w: %s", ErrNoContent, docID)
		}
		return "", fmt.Errorf("read markdown for %s: %w", docID, err)
	}

	content := string(data)
	s.cache.SetDefault(key, content)
	return content, nil
}

func (s *FileStore) docMeta(_ context.Context, docID string) (*docMetaFile, error) {
	key := "meta:" + docID
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*docMetaFile), nil
	}

	path := filepath.Join(s.root, docID, "metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDocNotFound, docID)
		}
		return nil, fmt.Errorf("read metadata for %s: %w", docID, err)
	}

	var meta docMetaFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata for %s: %w", docID, err)
	}
	if meta.Doc == nil {
		meta.Doc = map[string]any{}
	}

	s.cache.SetDefault(key, &meta)
	return &meta, nil
}
