// Package citation parses inline [N] markers out of LLM-generated answers,
// aligns them to sentences, and validates them against the source count.
package citation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/avezina/docent/internal/model"
)

var (
	markerPattern   = regexp.MustCompile(`\[(\d+)\]`)
	boundaryPattern = regexp.MustCompile(`[.!?]+`)
)

// abbreviations that should not terminate a sentence. Used only by
// SplitIntoSentences; the citation-to-sentence mapping keeps the naive
// boundary split so marker offsets stay aligned with the raw text.
var abbreviations = []string{
	"Mr.", "Mrs.", "Ms.", "Dr.", "Prof.", "Sr.", "Jr.",
	"vs.", "etc.", "e.g.", "i.e.", "Fig.", "No.", "pp.",
}

// ExtractCitations finds every [N] marker in left-to-right order. The same
// number appearing twice produces two Citation values.
func ExtractCitations(text string) []model.Citation {
	var citations []model.Citation
	for _, m := range markerPattern.FindAllStringSubmatchIndex(text, -1) {
		id, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		citations = append(citations, model.Citation{
			ID:         id,
			StartPos:   m[0],
			EndPos:     m[1],
			MarkerText: text[m[0]:m[1]],
		})
	}
	return citations
}

// RemoveCitations strips all [N] markers and collapses the doubled spaces
// that stripping leaves behind.
func RemoveCitations(text string) string {
	clean := markerPattern.ReplaceAllString(text, "")
	clean = regexp.MustCompile(`[ \t]{2,}`).ReplaceAllString(clean, " ")
	clean = regexp.MustCompile(` +([.!?,;:])`).ReplaceAllString(clean, "$1")
	return strings.TrimSpace(clean)
}

// SplitIntoSentences splits text into display-quality sentences, skipping
// boundaries that terminate a known abbreviation. Offsets are not reported,
// so this helper is unsuitable for citation mapping; see mapToSentences.
func SplitIntoSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i, r := range text {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(text) && text[i+1] != ' ' && text[i+1] != '\n' && text[i+1] != '\t' {
			continue
		}
		if endsWithAbbreviation(current.String()) {
			continue
		}
		flush()
	}
	flush()

	return sentences
}

func endsWithAbbreviation(s string) bool {
	for _, abbr := range abbreviations {
		if strings.HasSuffix(s, abbr) {
			return true
		}
	}
	return false
}

// mapToSentences splits text on [.!?]+ runs (naive split, abbreviations not
// special-cased) and assigns each citation to the first sentence whose span
// contains it. Both inputs are in ascending position order, so a single
// forward-scanning merge suffices: O(citations + sentences).
func mapToSentences(text string, citations []model.Citation) []model.Sentence {
	spans := sentenceSpans(text)

	sentences := make([]model.Sentence, 0, len(spans))
	ci := 0
	for _, sp := range spans {
		s := model.Sentence{
			Text:     strings.TrimSpace(text[sp[0]:sp[1]]),
			StartPos: sp[0],
			EndPos:   sp[1],
		}
		for ci < len(citations) && citations[ci].StartPos < sp[1] {
			if citations[ci].StartPos >= sp[0] {
				s.Citations = append(s.Citations, citations[ci])
			}
			ci++
		}
		sentences = append(sentences, s)
	}
	return sentences
}

// sentenceSpans returns [start, end) spans covering the whole text, ending
// each span just after a [.!?]+ run. Text with no terminator at all is one
// sentence.
func sentenceSpans(text string) [][2]int {
	if text == "" {
		return nil
	}

	var spans [][2]int
	start := 0
	for _, b := range boundaryPattern.FindAllStringIndex(text, -1) {
		spans = append(spans, [2]int{start, b[1]})
		start = b[1]
	}
	if start < len(text) {
		if strings.TrimSpace(text[start:]) != "" {
			spans = append(spans, [2]int{start, len(text)})
		}
	}
	if len(spans) == 0 {
		spans = append(spans, [2]int{0, len(text)})
	}
	return spans
}

// CreateBidirectionalMap builds both citation indexes in a single pass over
// the sentences. A citation id cited from several sentences accumulates each
// of them, in sentence order.
func CreateBidirectionalMap(sentences []model.Sentence) (map[int][]model.Sentence, map[int][]model.Citation) {
	citationToSentences := make(map[int][]model.Sentence)
	sentenceToCitations := make(map[int][]model.Citation)

	for i, s := range sentences {
		sentenceToCitations[i] = s.Citations
		seen := make(map[int]bool)
		for _, c := range s.Citations {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			citationToSentences[c.ID] = append(citationToSentences[c.ID], s)
		}
	}
	return citationToSentences, sentenceToCitations
}

// ValidateCitations checks every citation id against 1 <= id <= numSources.
// One error string per violating occurrence; repeats are not deduplicated.
func ValidateCitations(citations []model.Citation, numSources int) (bool, []string) {
	var errs []string
	for _, c := range citations {
		if c.ID < 1 || c.ID > numSources {
			errs = append(errs, fmt.Sprintf("citation [%d] out of range: must be between 1 and %d", c.ID, numSources))
		}
	}
	return len(errs) == 0, errs
}

// Parse runs the full pipeline: extract, validate, sentence-map, index,
// strip. Invalid citation numbering is a hard failure listing every
// violation, unlike the lenient extractor.
func Parse(text string, numSources int) (*model.ParsedAnswer, error) {
	citations := ExtractCitations(text)

	if ok, errs := ValidateCitations(citations, numSources); !ok {
		return nil, fmt.Errorf("invalid citations: %s", strings.Join(errs, "; "))
	}

	sentences := mapToSentences(text, citations)
	citationToSentences, sentenceToCitations := CreateBidirectionalMap(sentences)

	return &model.ParsedAnswer{
		OriginalText:        text,
		CleanText:           RemoveCitations(text),
		Citations:           citations,
		Sentences:           sentences,
		CitationToSentences: citationToSentences,
		SentenceToCitations: sentenceToCitations,
	}, nil
}

// FormatForFrontend serializes a parsed answer into the JSON shape the UI
// consumes. Sentence indexes are resolved by position lookup, fine at
// answer scale (tens of sentences).
func FormatForFrontend(parsed *model.ParsedAnswer) map[string]any {
	citations := make([]map[string]any, 0, len(parsed.Citations))
	for _, c := range parsed.Citations {
		citations = append(citations, map[string]any{
			"id":          c.ID,
			"start_pos":   c.StartPos,
			"end_pos":     c.EndPos,
			"marker_text": c.MarkerText,
		})
	}

	sentences := make([]map[string]any, 0, len(parsed.Sentences))
	for i, s := range parsed.Sentences {
		ids := make([]int, 0, len(s.Citations))
		for _, c := range s.Citations {
			ids = append(ids, c.ID)
		}
		sentences = append(sentences, map[string]any{
			"index":     i,
			"text":      s.Text,
			"citations": ids,
		})
	}

	citationMap := make(map[string][]map[string]any)
	for id, sents := range parsed.CitationToSentences {
		entries := make([]map[string]any, 0, len(sents))
		for _, s := range sents {
			entries = append(entries, map[string]any{
				"sentence_index": sentenceIndex(parsed.Sentences, s),
				"sentence_text":  s.Text,
			})
		}
		citationMap[strconv.Itoa(id)] = entries
	}

	return map[string]any{
		"citations":    citations,
		"sentences":    sentences,
		"citation_map": citationMap,
	}
}

func sentenceIndex(sentences []model.Sentence, target model.Sentence) int {
	for i, s := range sentences {
		if s.StartPos == target.StartPos && s.EndPos == target.EndPos {
			return i
		}
	}
	return -1
}
