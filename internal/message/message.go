// Package message defines the vestige IPC protocol.
//
// All messages are newline-delimited JSON. Binary payloads ride in []byte
// fields, which encoding/json base64-encodes, so images are safe to embed in
// JSON strings. Each message is exactly one line: <json>\n
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"go.klb.dev/vestige/internal/entry"
)

// Type identifies the kind of message.
type Type string

const (
	// Client requests.
	TypeHistory Type = "HISTORY"
	TypeRecall  Type = "RECALL"
	TypeRemove  Type = "REMOVE"
	TypeClear   Type = "CLEAR"
	TypeLimit   Type = "LIMIT"
	TypeStats   Type = "STATS"
	TypeWatch   Type = "WATCH"

	// Daemon responses and pushes.
	TypeHistoryResponse Type = "HISTORY_RESPONSE"
	TypePayload         Type = "PAYLOAD"
	TypeStatsResponse   Type = "STATS_RESPONSE"
	TypeUpdate          Type = "UPDATE"
	TypeOK              Type = "OK"
	TypeError           Type = "ERROR"
)

// Payload carries one entry's full content in a PAYLOAD response. Exactly
// one of Text or Data is set, per Kind. Text arrives decompressed.
type Payload struct {
	ID           string     `json:"id"`
	Kind         entry.Kind `json:"kind"`
	CreatedAt    time.Time  `json:"created_at"`
	Text         string     `json:"text,omitempty"`
	Truncated    bool       `json:"truncated,omitempty"`
	OriginalSize int        `json:"original_size,omitempty"`
	Data         []byte     `json:"data,omitempty"`
	Width        int        `json:"width,omitempty"`
	Height       int        `json:"height,omitempty"`
}

// Stats is the STATS_RESPONSE body: a flat snapshot of daemon health.
type Stats struct {
	Version   string    `json:"version"`
	Backend   string    `json:"backend"`
	Socket    string    `json:"socket"`
	StartedAt time.Time `json:"started_at"`

	Entries    int    `json:"entries"`
	Capacity   int    `json:"capacity"`
	Inserts    uint64 `json:"inserts"`
	Duplicates uint64 `json:"duplicates"`
	Evictions  uint64 `json:"evictions"`
	Rejected   uint64 `json:"rejected"`
	TextBytes  int    `json:"text_bytes"`
	BlobFiles  int    `json:"blob_files"`
	BlobBytes  int64  `json:"blob_bytes"`

	GovernorState    string `json:"governor_state"`
	HeapBytes        uint64 `json:"heap_bytes"`
	Cleans           uint64 `json:"cleans"`
	AggressiveCleans uint64 `json:"aggressive_cleans"`
	TrimmedEntries   uint64 `json:"trimmed_entries"`
	SweptBlobs       uint64 `json:"swept_blobs"`

	Polls        uint64        `json:"polls"`
	Captures     uint64        `json:"captures"`
	ReadErrors   uint64        `json:"read_errors"`
	PollInterval time.Duration `json:"poll_interval"`
}

// Message is the top-level wire envelope.
type Message struct {
	// Always present
	Type Type `json:"type"`

	// RECALL / REMOVE — the target entry. Print asks for the content back
	// as a PAYLOAD instead of placing it on the clipboard.
	ID    string `json:"id,omitempty"`
	Print bool   `json:"print,omitempty"`

	// LIMIT
	Limit int `json:"limit,omitempty"`

	// HISTORY_RESPONSE / UPDATE
	Entries  []entry.Summary `json:"entries,omitempty"`
	Capacity int             `json:"capacity,omitempty"`

	// PAYLOAD
	Payload *Payload `json:"payload,omitempty"`

	// STATS_RESPONSE
	Stats *Stats `json:"stats,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
}

// Encode serialises the message to JSON without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	return &m, nil
}

// Errorf builds an ERROR message.
func Errorf(format string, args ...any) *Message {
	return &Message{Type: TypeError, Error: fmt.Sprintf(format, args...)}
}

// OK builds an OK message.
func OK() *Message {
	return &Message{Type: TypeOK}
}
