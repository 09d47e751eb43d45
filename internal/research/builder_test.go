package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/avezina/docent/internal/model"
	"github.com/avezina/docent/internal/search"
	"github.com/avezina/docent/internal/store"
)

type fakeEngine struct {
	response *search.Response
	err      error
	lastMode search.Mode
}

func (f *fakeEngine) Search(_ context.Context, _ string, _ int, mode search.Mode) (*search.Response, error) {
	f.lastMode = mode
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type fakeStore struct {
	metas    map[string]*store.PageMeta // keyed by doc_id
	markdown map[string]string
	failDocs map[string]bool
}

func (f *fakeStore) PageMeta(_ context.Context, docID string, page int) (*store.PageMeta, error) {
	if f.failDocs[docID] {
		return nil, errors.New("corrupt metadata")
	}
	if m, ok := f.metas[docID]; ok {
		meta := *m
		meta.Page = page
		return &meta, nil
	}
	return nil, store.ErrDocNotFound
}

func (f *fakeStore) DocMarkdown(_ context.Context, docID string) (string, error) {
	if md, ok := f.markdown[docID]; ok {
		return md, nil
	}
	return "", store.ErrNoContent
}

func newFakeStore(docIDs ...string) *fakeStore {
	fs := &fakeStore{
		metas:    map[string]*store.PageMeta{},
		markdown: map[string]string{},
		failDocs: map[string]bool{},
	}
	for _, id := range docIDs {
		fs.metas[id] = &store.PageMeta{
			DocID:    id,
			Filename: id + ".pdf",
			ChunkID:  id + "-chunk0001",
		}
		fs.markdown[id] = "Paragraph about " + id + "."
	}
	return fs
}

func hit(docID string, page int, score float64) search.Result {
	return search.Result{
		DocID:    docID,
		Page:     page,
		Score:    score,
		Metadata: map[string]any{"chunk_id": 1},
	}
}

func TestDedupResults(t *testing.T) {
	results := []search.Result{
		hit("a", 1, 0.9),
		hit("b", 1, 0.8),
		hit("a", 1, 0.95), // duplicate, higher score wins
		hit("c", 2, 0.7),
		hit("b", 1, 0.5), // duplicate, lower score dropped
	}

	deduped := DedupResults(results)
	if len(deduped) != 3 {
		t.Fatalf("expected 3 unique results, got %d", len(deduped))
	}
	if deduped[0].DocID != "a" || deduped[0].Score != 0.95 {
		t.Errorf("expected a@0.95 first, got %s@%v", deduped[0].DocID, deduped[0].Score)
	}
	if deduped[1].DocID != "b" || deduped[1].Score != 0.8 {
		t.Errorf("expected b@0.8 second, got %s@%v", deduped[1].DocID, deduped[1].Score)
	}
}

func TestDedupResults_Idempotent(t *testing.T) {
	sorted := []search.Result{
		hit("a", 1, 0.9),
		hit("b", 1, 0.8),
		hit("c", 2, 0.7),
	}

	once := DedupResults(sorted)
	twice := DedupResults(once)

	if len(once) != len(sorted) || len(twice) != len(once) {
		t.Fatalf("expected stable lengths, got %d then %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].DocID != twice[i].DocID || once[i].Score != twice[i].Score {
			t.Errorf("position %d changed across dedup passes", i)
		}
	}
}

func TestDedupResults_TieKeepsFirstSeen(t *testing.T) {
	results := []search.Result{
		{DocID: "a", Page: 1, Score: 0.8, Metadata: map[string]any{"chunk_id": 1}},
		{DocID: "a", Page: 1, Score: 0.8, Metadata: map[string]any{"chunk_id": 9}},
	}

	deduped := DedupResults(results)
	if len(deduped) != 1 {
		t.Fatalf("expected 1 result, got %d", len(deduped))
	}
	if deduped[0].Metadata["chunk_id"] != 1 {
		t.Error("expected first-seen hit kept on score tie")
	}
}

func TestBuildContext_DedupScenario(t *testing.T) {
	// 12 raw hits including 3 duplicate (doc, page) pairs at different
	// scores: 9 unique sources, citation-numbered 1-9 in list order.
	var results []search.Result
	for i := 0; i < 9; i++ {
		results = append(results, hit(fmt.Sprintf("doc%d", i), 1, 0.9-float64(i)*0.05))
	}
	results = append(results,
		hit("doc0", 1, 0.1),
		hit("doc3", 1, 0.2),
		hit("doc7", 1, 0.3),
	)

	docIDs := make([]string, 9)
	for i := range docIDs {
		docIDs[i] = fmt.Sprintf("doc%d", i)
	}

	engine := &fakeEngine{response: &search.Response{Results: results}}
	b := NewBuilder(engine, newFakeStore(docIDs...), model.ContextConfig{MaxSources: 10, MaxTokens: 10000}, zap.NewNop())

	rc, err := b.BuildContext(context.Background(), "query", 10, true, true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(rc.Sources) != 9 {
		t.Fatalf("expected 9 unique sources, got %d", len(rc.Sources))
	}
	for i := range rc.Sources {
		header := fmt.Sprintf("[Document %d: %s.pdf, Page 1]", i+1, rc.Sources[i].DocID)
		if !strings.Contains(rc.FormattedText, header) {
			t.Errorf("expected header %q in formatted context", header)
		}
	}
	if rc.Truncated {
		t.Error("small context must not be truncated")
	}
}

func TestBuildContext_ZeroSourcesSentinel(t *testing.T) {
	engine := &fakeEngine{response: &search.Response{Results: nil}}
	b := NewBuilder(engine, newFakeStore(), model.ContextConfig{}, zap.NewNop())

	rc, err := b.BuildContext(context.Background(), "query", 10, true, false)
	if err != nil {
		t.Fatalf("zero sources must not error, got %v", err)
	}
	if rc.FormattedText != NoResultsText {
		t.Errorf("expected sentinel text, got %q", rc.FormattedText)
	}
	if len(rc.Sources) != 0 || rc.Truncated {
		t.Error("sentinel context must carry no sources and no truncation")
	}
}

func TestBuildContext_BadSourceSkipped(t *testing.T) {
	fs := newFakeStore("good", "bad")
	fs.failDocs["bad"] = true

	engine := &fakeEngine{response: &search.Response{Results: []search.Result{
		hit("bad", 1, 0.9),
		hit("good", 1, 0.8),
	}}}
	b := NewBuilder(engine, fs, model.ContextConfig{}, zap.NewNop())

	rc, err := b.BuildContext(context.Background(), "query", 10, true, false)
	if err != nil {
		t.Fatalf("one bad source must not abort the build, got %v", err)
	}
	if len(rc.Sources) != 1 || rc.Sources[0].DocID != "good" {
		t.Fatalf("expected only the good source, got %+v", rc.Sources)
	}
}

func TestBuildContext_HybridTextShadow(t *testing.T) {
	fs := newFakeStore("slides")
	fs.metas["slides"].ChunkID = "" // visual-only page
	fs.markdown["slides"] = strings.Repeat("Extractable slide text. ", 10)

	engine := &fakeEngine{response: &search.Response{Results: []search.Result{
		{DocID: "slides", Page: 1, Score: 0.9, Metadata: map[string]any{}},
	}}}
	b := NewBuilder(engine, fs, model.ContextConfig{}, zap.NewNop())

	rc, err := b.BuildContext(context.Background(), "query", 10, true, true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(rc.Sources) != 2 {
		t.Fatalf("expected visual source plus text shadow, got %d", len(rc.Sources))
	}
	if !rc.Sources[0].IsVisual() {
		t.Error("first source must stay visual")
	}
	if rc.Sources[1].IsVisual() {
		t.Error("shadow source must be text-flavored")
	}
	if rc.Sources[1].ChunkID != "slides-page1" {
		t.Errorf("expected synthetic page chunk id, got %q", rc.Sources[1].ChunkID)
	}
	if rc.Sources[1].DocID != "slides" || rc.Sources[1].Page != 1 {
		t.Error("shadow must reference the same page")
	}
}

func TestBuildContext_VisualHitIgnoresStoreChunkID(t *testing.T) {
	// newFakeStore seeds metadata with "slides-chunk0001"; a visual hit has
	// no chunk_id key in its payload and must stay visual regardless.
	fs := newFakeStore("slides")
	fs.markdown["slides"] = strings.Repeat("Extractable slide text. ", 10)

	engine := &fakeEngine{response: &search.Response{Results: []search.Result{
		{DocID: "slides", Page: 1, Score: 0.9, Metadata: map[string]any{}},
	}}}
	b := NewBuilder(engine, fs, model.ContextConfig{}, zap.NewNop())

	rc, err := b.BuildContext(context.Background(), "query", 10, true, true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(rc.Sources) == 0 || !rc.Sources[0].IsVisual() {
		t.Fatalf("visual hit must stay visual despite store chunk id, got %+v", rc.Sources)
	}
	if rc.Sources[0].ChunkID != "" {
		t.Errorf("visual source must carry no chunk id, got %q", rc.Sources[0].ChunkID)
	}
	if len(rc.Sources) != 2 {
		t.Fatalf("expected the text shadow alongside the visual source, got %d", len(rc.Sources))
	}
	if !strings.Contains(rc.FormattedText, "[Visual Match]") {
		t.Error("formatted context must keep the visual-match prefix")
	}
}

func TestBuildContext_StoreChunkIDRepairsBadPayload(t *testing.T) {
	// A text hit whose payload chunk_id fails coercion falls back to the
	// store metadata.
	fs := newFakeStore("report")

	engine := &fakeEngine{response: &search.Response{Results: []search.Result{
		{DocID: "report", Page: 1, Score: 0.9, Metadata: map[string]any{"chunk_id": "not-a-number"}},
	}}}
	b := NewBuilder(engine, fs, model.ContextConfig{}, zap.NewNop())

	rc, err := b.BuildContext(context.Background(), "query", 10, true, false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(rc.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(rc.Sources))
	}
	if rc.Sources[0].ChunkID != "report-chunk0001" {
		t.Errorf("expected store fallback chunk id, got %q", rc.Sources[0].ChunkID)
	}
	if rc.Sources[0].IsVisual() {
		t.Error("repaired text hit must not read as visual")
	}
}

func TestBuildContext_NoShadowForShortContent(t *testing.T) {
	fs := newFakeStore("slides")
	fs.metas["slides"].ChunkID = ""
	fs.markdown["slides"] = "tiny"

	engine := &fakeEngine{response: &search.Response{Results: []search.Result{
		{DocID: "slides", Page: 1, Score: 0.9, Metadata: map[string]any{}},
	}}}
	b := NewBuilder(engine, fs, model.ContextConfig{}, zap.NewNop())

	rc, err := b.BuildContext(context.Background(), "query", 10, true, true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(rc.Sources) != 1 {
		t.Fatalf("short content must not shadow, got %d sources", len(rc.Sources))
	}
}

func TestBuildContext_TruncatesToBudget(t *testing.T) {
	docIDs := make([]string, 6)
	for i := range docIDs {
		docIDs[i] = fmt.Sprintf("doc%d", i)
	}
	fs := newFakeStore(docIDs...)
	for _, id := range docIDs {
		fs.markdown[id] = strings.Repeat("Long paragraph of content. ", 40)
	}

	var results []search.Result
	for i, id := range docIDs {
		results = append(results, hit(id, 1, 0.9-float64(i)*0.01))
	}

	engine := &fakeEngine{response: &search.Response{Results: results}}
	b := NewBuilder(engine, fs, model.ContextConfig{MaxSources: 10, MaxTokens: 700}, zap.NewNop())

	rc, err := b.BuildContext(context.Background(), "query", 10, true, false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !rc.Truncated {
		t.Fatal("expected truncation flag")
	}
	if len(rc.Sources) == 0 || len(rc.Sources) >= 6 {
		t.Fatalf("expected a strict subset of sources, got %d", len(rc.Sources))
	}
	// Highest scored sources survive.
	if rc.Sources[0].DocID != "doc0" {
		t.Errorf("expected doc0 kept first, got %s", rc.Sources[0].DocID)
	}
}

func TestAssemble_TruncationFlagRequiresDroppedSource(t *testing.T) {
	// Budget chosen so the whole-text estimate lands one token over while
	// per-block accounting keeps the only source: block is 130 chars (32
	// tokens) + 4 url tokens + 5 separator allowance = 41, but the full
	// formatted text is 168 chars (42 tokens).
	b := NewBuilder(nil, nil, model.ContextConfig{MaxSources: 10, MaxTokens: 41}, zap.NewNop())

	src := model.SourceDocument{
		DocID:           "d",
		Page:            1,
		ChunkID:         "d-chunk0001",
		Filename:        "d.pdf",
		MarkdownContent: strings.Repeat("x", 102),
	}

	rc := b.Assemble([]model.SourceDocument{src})
	if len(rc.Sources) != 1 {
		t.Fatalf("expected the source kept, got %d", len(rc.Sources))
	}
	if rc.Truncated {
		t.Error("flag must stay false when no source was dropped")
	}
}

func TestTruncateToBudget_Monotonic(t *testing.T) {
	b := NewBuilder(nil, nil, model.ContextConfig{MaxTokens: 200}, zap.NewNop())

	var sources []model.SourceDocument
	for i := 0; i < 10; i++ {
		sources = append(sources, model.SourceDocument{
			DocID:           fmt.Sprintf("doc%d", i),
			Page:            1,
			ChunkID:         fmt.Sprintf("doc%d-chunk0001", i),
			Filename:        fmt.Sprintf("doc%d.pdf", i),
			MarkdownContent: strings.Repeat("x", 300),
		})
	}

	kept := b.TruncateToBudget(sources)
	if len(kept) > len(sources) {
		t.Fatal("truncation must never add sources")
	}

	total := 0
	for i, src := range kept {
		total += model.EstimateTokens(formatSourceBlock(i+1, src)) +
			model.EstimateTokens(b.sourceURL(src)) + separatorTokens
	}
	if total > 200 {
		t.Errorf("kept sources cost %d tokens, budget is 200", total)
	}

	// Truncating an empty list stays empty.
	if got := b.TruncateToBudget(nil); len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}

func TestExtractPageMarkdown_Markers(t *testing.T) {
	full := "<!-- page: 1 -->\nFirst page text.\n<!-- page: 2 -->\nSecond page text.\n<!-- page: 3 -->\nThird page text."

	if got := ExtractPageMarkdown(full, 2); got != "Second page text." {
		t.Errorf("page 2: got %q", got)
	}
	if got := ExtractPageMarkdown(full, 3); got != "Third page text." {
		t.Errorf("page 3: got %q", got)
	}
	if got := ExtractPageMarkdown(full, 9); got != "" {
		t.Errorf("missing page must be empty, got %q", got)
	}
}

func TestExtractPageMarkdown_ParagraphFallback(t *testing.T) {
	paragraphs := make([]string, 7)
	for i := range paragraphs {
		paragraphs[i] = fmt.Sprintf("Paragraph %d.", i+1)
	}
	full := strings.Join(paragraphs, "\n\n")

	page1 := ExtractPageMarkdown(full, 1)
	if !strings.Contains(page1, "Paragraph 1.") || !strings.Contains(page1, "Paragraph 3.") {
		t.Errorf("page 1 should hold the first 3 paragraphs, got %q", page1)
	}
	if strings.Contains(page1, "Paragraph 4.") {
		t.Errorf("page 1 must not include paragraph 4, got %q", page1)
	}

	page3 := ExtractPageMarkdown(full, 3)
	if !strings.Contains(page3, "Paragraph 7.") {
		t.Errorf("page 3 should hold the trailing paragraph, got %q", page3)
	}

	if got := ExtractPageMarkdown(full, 5); got != "" {
		t.Errorf("page past the end must be empty, got %q", got)
	}
}

func TestBuildContext_SearchModeMapping(t *testing.T) {
	engine := &fakeEngine{response: &search.Response{Results: nil}}
	b := NewBuilder(engine, newFakeStore(), model.ContextConfig{}, zap.NewNop())

	cases := []struct {
		text, visual bool
		want         search.Mode
	}{
		{true, true, search.ModeHybrid},
		{false, true, search.ModeVisualOnly},
		{true, false, search.ModeTextOnly},
	}
	for _, c := range cases {
		if _, err := b.BuildContext(context.Background(), "q", 5, c.text, c.visual); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if engine.lastMode != c.want {
			t.Errorf("text=%v visual=%v: expected mode %s, got %s", c.text, c.visual, c.want, engine.lastMode)
		}
	}
}
