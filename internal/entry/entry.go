// Package entry defines the clipboard history entry model.
//
// An Entry is immutable once created: duplicate content never mutates an
// existing entry, it replaces it with a fresh one (new id, new timestamp).
// Image payloads live on disk and are referenced by blob id; the entry itself
// only carries metadata and, for text, the (possibly compressed) payload.
package entry

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the content type of an entry.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Signature is a deterministic fingerprint of an entry's content, used for
// deduplication. Two live entries never share a signature.
type Signature string

// Entry is one retained clipboard item. Exactly one of the text or image
// field groups is populated, selected by Kind.
type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Signature Signature `json:"signature"`
	CreatedAt time.Time `json:"created_at"`

	// Text fields. Text holds the stored plaintext unless Compressed is set,
	// in which case Blob holds the gzip stream and Text is empty.
	// OriginalSize is the byte length of the text as read from the clipboard,
	// before any truncation.
	Text         string `json:"text,omitempty"`
	Compressed   bool   `json:"compressed,omitempty"`
	Blob         []byte `json:"blob,omitempty"`
	OriginalSize int    `json:"original_size,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`

	// Image fields. Refs name files owned by the resource manager; ThumbRef
	// may be empty when thumbnail generation degraded.
	ImageRef string `json:"image_ref,omitempty"`
	ThumbRef string `json:"thumb_ref,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// NewID returns a fresh entry id: UUIDv7, so ids are unique and sort by
// creation time.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Refs returns the entry's blob file references, if any.
func (e *Entry) Refs() []string {
	if e.Kind != KindImage {
		return nil
	}
	refs := make([]string, 0, 2)
	if e.ImageRef != "" {
		refs = append(refs, e.ImageRef)
	}
	if e.ThumbRef != "" {
		refs = append(refs, e.ThumbRef)
	}
	return refs
}
