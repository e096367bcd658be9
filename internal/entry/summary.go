package entry

import (
	"time"
	"unicode/utf8"
)

// PreviewLimit bounds the text carried by a Summary when the stored text
// exceeds the projection threshold.
const PreviewLimit = 256

// Summary is the lightweight projection of an Entry handed to presentation
// consumers. It never carries a compressed blob, oversized text, or the
// full-resolution image — only the thumbnail reference.
type Summary struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	// Text preview: the full stored text when small, otherwise a rune-safe
	// prefix with a trailing ellipsis. Size is the stored byte length.
	Text      string `json:"text,omitempty"`
	Size      int    `json:"size,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`

	ThumbRef string `json:"thumb_ref,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Preview returns s cut to at most limit bytes on a rune boundary, with an
// ellipsis appended when anything was cut.
func Preview(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
