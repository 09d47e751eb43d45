package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeDoc(t *testing.T, root, docID string, meta docMetaFile, markdown string) {
	t.Helper()

	dir := filepath.Join(root, docID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}

	if markdown != "" {
		if err := os.WriteFile(filepath.Join(dir, "content.md"), []byte(markdown), 0o644); err != nil {
			t.Fatalf("write markdown: %v", err)
		}
	}
}

func TestFileStore_PageMeta(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "report-2024", docMetaFile{
		Doc: map[string]any{
			"filename":   "report-2024.pdf",
			"extension":  "pdf",
			"thumb_path": "thumbs/report-2024.png",
		},
		Pages: map[string]map[string]any{
			"3": {
				"chunk_id":       float64(17), // JSON numbers decode as float64
				"section_path":   "Results > Emissions",
				"parent_heading": "Emissions",
			},
		},
	}, "")

	s := NewFileStore(root, time.Minute, zap.NewNop())
	ctx := context.Background()

	meta, err := s.PageMeta(ctx, "report-2024", 3)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if meta.ChunkID != "report-2024-chunk0017" {
		t.Errorf("expected canonical chunk id, got %q", meta.ChunkID)
	}
	if meta.SectionPath != "Results > Emissions" {
		t.Errorf("expected page override, got %q", meta.SectionPath)
	}
	if meta.Filename != "report-2024.pdf" || meta.Extension != "pdf" {
		t.Errorf("expected doc-level fields carried, got %q/%q", meta.Filename, meta.Extension)
	}

	// A page with no override has no chunk id: a visual-only page.
	meta, err = s.PageMeta(ctx, "report-2024", 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if meta.ChunkID != "" {
		t.Errorf("expected visual page, got chunk id %q", meta.ChunkID)
	}
}

func TestFileStore_MissingDoc(t *testing.T) {
	s := NewFileStore(t.TempDir(), time.Minute, zap.NewNop())

	_, err := s.PageMeta(context.Background(), "nope", 1)
	if err == nil {
		t.Fatal("expected error for missing document")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestFileStore_DocMarkdown(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "doc", docMetaFile{Doc: map[string]any{"filename": "doc.pdf"}},
		"# Title\n\nbody text\n")

	s := NewFileStore(root, time.Minute, zap.NewNop())

	md, err := s.DocMarkdown(context.Background(), "doc")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(md, "body text") {
		t.Errorf("unexpected markdown %q", md)
	}

	// Second read comes from cache; mutate the file to prove it.
	if err := os.WriteFile(filepath.Join(root, "doc", "content.md"), []byte("changed"), 0o644); err != nil {
		t.Fatalf("rewrite markdown: %v", err)
	}
	md, err = s.DocMarkdown(context.Background(), "doc")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if md == "changed" {
		t.Error("expected cached content, got fresh read")
	}
}

func TestFileStore_InlineFullTextFallback(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "webdoc", docMetaFile{
		Doc: map[string]any{
			"filename":  "webdoc.docx",
			"full_text": "<p>Hello <b>world</b></p><script>alert(1)</script>",
		},
	}, "")

	s := NewFileStore(root, time.Minute, zap.NewNop())

	md, err := s.DocMarkdown(context.Background(), "webdoc")
	if err != nil {
		t.Fatalf("expected fallback to inline text, got %v", err)
	}
	if strings.Contains(md, "<") || strings.Contains(md, "alert") {
		t.Errorf("expected sanitized text, got %q", md)
	}
	if !strings.Contains(md, "Hello") || !strings.Contains(md, "world") {
		t.Errorf("expected visible text preserved, got %q", md)
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain passthrough", "just markdown text", "just markdown text"},
		{"tags stripped", "<div>a <em>b</em></div>", "a b"},
		{"script dropped", "<p>keep</p><script>drop()</script>", "keep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
