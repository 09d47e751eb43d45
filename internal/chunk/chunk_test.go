package chunk

import (
	"testing"

	"go.uber.org/zap"
)

func TestExtractChunkID_RoundTrip(t *testing.T) {
	logger := zap.NewNop()

	for _, n := range []int{0, 1, 100, 9999} {
		id := ExtractChunkID(map[string]any{"chunk_id": n}, "doc", logger)
		if id == "" {
			t.Fatalf("chunk_id %d: expected non-empty id", n)
		}

		ref := ParseChunkID(id)
		if ref == nil {
			t.Fatalf("chunk_id %d: parse of %q failed", n, id)
		}
		if ref.DocID != "doc" || ref.ChunkNum != n {
			t.Errorf("chunk_id %d: got doc=%q num=%d", n, ref.DocID, ref.ChunkNum)
		}
	}
}

func TestExtractChunkID_Coercion(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name string
		meta map[string]any
		want string
	}{
		{"missing key is visual", map[string]any{}, ""},
		{"int", map[string]any{"chunk_id": 7}, "doc-chunk0007"},
		{"json float", map[string]any{"chunk_id": float64(12)}, "doc-chunk0012"},
		{"numeric string", map[string]any{"chunk_id": "42"}, "doc-chunk0042"},
		{"fractional float rejected", map[string]any{"chunk_id": 3.5}, ""},
		{"garbage string rejected", map[string]any{"chunk_id": "abc"}, ""},
		{"wrong type rejected", map[string]any{"chunk_id": []int{1}}, ""},
		{"overflow keeps value", map[string]any{"chunk_id": 12345}, "doc-chunk12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractChunkID(tt.meta, "doc", logger)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseChunkID_HyphenatedDocID(t *testing.T) {
	ref := ParseChunkID("annual-report-2024-chunk0042")
	if ref == nil {
		t.Fatal("expected successful parse")
	}
	if ref.DocID != "annual-report-2024" {
		t.Errorf("expected greedy prefix capture, got doc_id %q", ref.DocID)
	}
	if ref.ChunkNum != 42 {
		t.Errorf("expected chunk 42, got %d", ref.ChunkNum)
	}
}

func TestParseChunkID_Rejects(t *testing.T) {
	for _, s := range []string{
		"",
		"doc",
		"doc-chunk12", // wrong digit count
		"doc-page0007",
		"chunk0007",
	} {
		if ref := ParseChunkID(s); ref != nil {
			t.Errorf("%q: expected nil, got %+v", s, ref)
		}
	}
}
