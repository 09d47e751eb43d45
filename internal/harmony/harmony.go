// Package harmony extracts schema-validated JSON payloads from
// channel-structured LLM responses. Local models wrap their useful output in
// channel markers and often surround the JSON with commentary; everything
// here degrades to a deterministic fallback instead of returning an error.
package harmony

import (
	"encoding/json"
	"strings"
)

const (
	channelMarker = "<|channel|>"
	messageMarker = "<|message|>"
	endMarker     = "<|end|>"
)

// FactsPayload is the validated result of a compression response.
type FactsPayload struct {
	Facts string `json:"facts"`
}

// ScorePayload is the validated result of a relevance-scoring response.
type ScorePayload struct {
	Score float64 `json:"score"`
}

// FinalText returns the content of the "final" channel when channel markers
// are present, otherwise the whole text. Analysis channels are dropped.
func FinalText(text string) string {
	if !strings.Contains(text, channelMarker) {
		return text
	}

	segments := strings.Split(text, channelMarker)
	for _, seg := range segments[1:] {
		name, rest, ok := strings.Cut(seg, messageMarker)
		if !ok {
			continue
		}
		if strings.TrimSpace(name) != "final" {
			continue
		}
		if i := strings.Index(rest, endMarker); i >= 0 {
			rest = rest[:i]
		}
		return strings.TrimSpace(rest)
	}

	// Markers present but no final channel: fall back to the last segment's
	// message body.
	last := segments[len(segments)-1]
	if _, rest, ok := strings.Cut(last, messageMarker); ok {
		if i := strings.Index(rest, endMarker); i >= 0 {
			rest = rest[:i]
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(text)
}

// ExtractJSON locates the first balanced JSON object inside text, tolerating
// surrounding prose and channel markers. Returns "" when no object is found.
func ExtractJSON(text string) string {
	text = FinalText(text)

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// ParseFacts validates a compression response. On any failure (no JSON,
// malformed JSON, missing or empty facts) the payload falls back to the
// original text, so the caller always has usable content.
func ParseFacts(response, original string) FactsPayload {
	fallback := FactsPayload{Facts: original}

	raw := ExtractJSON(response)
	if raw == "" {
		return fallback
	}

	var payload FactsPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fallback
	}
	if strings.TrimSpace(payload.Facts) == "" {
		return fallback
	}
	return payload
}

// ParseScore validates a relevance-scoring response. Anything unparseable or
// out of the [0, 10] range falls back to the neutral 5.
func ParseScore(response string) ScorePayload {
	fallback := ScorePayload{Score: 5}

	raw := ExtractJSON(response)
	if raw == "" {
		return fallback
	}

	// Decode into a loose map first: a string-typed score is a schema
	// violation, not a number to coerce.
	var loose map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		return fallback
	}
	rawScore, ok := loose["score"]
	if !ok {
		return fallback
	}

	var score float64
	if err := json.Unmarshal(rawScore, &score); err != nil {
		return fallback
	}
	if score < 0 || score > 10 {
		return fallback
	}
	return ScorePayload{Score: score}
}
