// Package navurl builds deep links into the document viewer.
package navurl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/avezina/docent/internal/chunk"
)

// audioExtensions navigate by chunk time-range instead of page, since audio
// has no page geometry.
var audioExtensions = map[string]bool{
	"mp3":  true,
	"wav":  true,
	"m4a":  true,
	"ogg":  true,
	"flac": true,
}

// IsAudio reports whether ext is an audio format.
func IsAudio(ext string) bool {
	return audioExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// DetailsURL builds the viewer link for one source. Non-audio documents
// navigate by page; audio documents navigate by chunk, which the viewer
// resolves to a time range. When absolute is true the configured base URL is
// prepended.
func DetailsURL(base, docID string, page int, chunkID, ext string, absolute bool) string {
	path := fmt.Sprintf("/details/%s", url.PathEscape(docID))

	q := url.Values{}
	if IsAudio(ext) {
		if ref := chunk.ParseChunkID(chunkID); ref != nil {
			q.Set("chunk", fmt.Sprintf("%d", ref.ChunkNum))
		}
	} else if page > 0 {
		q.Set("page", fmt.Sprintf("%d", page))
	}

	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	if absolute && base != "" {
		return strings.TrimSuffix(base, "/") + path
	}
	return path
}
