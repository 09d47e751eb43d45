// Package chunk converts between stored chunk metadata and the canonical
// chunk identifier string "{doc_id}-chunk{NNNN}".
package chunk

import (
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

// chunkIDPattern anchors the suffix so greedy prefix capture handles
// hyphenated doc ids.
var chunkIDPattern = regexp.MustCompile(`^(.+)-chunk(\d{4})$`)

// Ref is a parsed chunk identifier.
type Ref struct {
	DocID    string
	ChunkNum int
}

// ExtractChunkID builds the canonical chunk id from raw search metadata.
// A missing chunk_id key means a visual result and yields "". Values are
// coerced leniently: ints, floats from JSON decoding, and numeric strings
// are accepted; anything else is logged and yields "". Never returns an
// error, a bad chunk id must not sink the whole result.
func ExtractChunkID(metadata map[string]any, docID string, logger *zap.Logger) string {
	raw, ok := metadata["chunk_id"]
	if !ok {
		return ""
	}

	n, ok := coerceInt(raw)
	if !ok {
		if logger != nil {
			logger.Warn("unparsable chunk_id in metadata",
				zap.String("doc_id", docID),
				zap.Any("chunk_id", raw))
		}
		return ""
	}

	// Zero-padded to 4 digits; values >= 10000 overflow the padding but
	// remain valid identifiers.
	return fmt.Sprintf("%s-chunk%04d", docID, n)
}

// ParseChunkID is the inverse of ExtractChunkID. Returns nil on any
// mismatch, including a wrong digit count.
func ParseChunkID(s string) *Ref {
	m := chunkIDPattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return nil
	}
	return &Ref{DocID: m[1], ChunkNum: n}
}

func coerceInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		// JSON numbers decode as float64; only accept whole values.
		if t == float64(int(t)) {
			return int(t), true
		}
		return 0, false
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
