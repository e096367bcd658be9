// Package textpolicy bounds and compresses text payloads at ingestion.
//
// Oversized text is truncated once, when it enters the store — never
// re-applied to already-stored text. Text larger than the compression
// threshold is gzip-compressed for storage; presentation always receives
// plaintext.
package textpolicy

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"
)

// TruncationMarker is appended to text cut by Truncate so users can tell a
// stored entry is not the whole copy.
const TruncationMarker = "…[truncated]"

const (
	DefaultTruncateLimit     = 20 << 10 // 20 KiB
	MinTruncateLimit         = 10 << 10
	MaxTruncateLimit         = 50 << 10
	DefaultCompressThreshold = 4 << 10
)

// Policy holds the text size limits. TruncateLimit and CompressThreshold are
// byte counts with CompressThreshold strictly below TruncateLimit.
type Policy struct {
	TruncateLimit     int
	CompressThreshold int
}

// Default returns the documented default policy.
func Default() Policy {
	return Policy{
		TruncateLimit:     DefaultTruncateLimit,
		CompressThreshold: DefaultCompressThreshold,
	}
}

// Clamp normalizes p into the supported ranges: TruncateLimit into
// [MinTruncateLimit, MaxTruncateLimit], CompressThreshold positive and
// strictly below TruncateLimit.
func (p Policy) Clamp() Policy {
	if p.TruncateLimit < MinTruncateLimit {
		p.TruncateLimit = MinTruncateLimit
	}
	if p.TruncateLimit > MaxTruncateLimit {
		p.TruncateLimit = MaxTruncateLimit
	}
	if p.CompressThreshold <= 0 {
		p.CompressThreshold = DefaultCompressThreshold
	}
	if p.CompressThreshold >= p.TruncateLimit {
		p.CompressThreshold = p.TruncateLimit / 2
	}
	return p
}

// Truncate cuts s to at most TruncateLimit bytes on a rune boundary and
// appends TruncationMarker. The bool reports whether anything was cut.
func (p Policy) Truncate(s string) (string, bool) {
	if len(s) <= p.TruncateLimit {
		return s, false
	}
	cut := p.TruncateLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationMarker, true
}

// Compress gzips b.
func Compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Decompress(Compress(t)) == t for every t.
func Decompress(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("gzip open: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}

// Applied is the outcome of running clipboard text through the policy.
type Applied struct {
	Stored       string // possibly truncated plaintext
	Blob         []byte // gzip stream when Compressed
	Compressed   bool
	Truncated    bool
	OriginalSize int
}

// Apply truncates and, when the stored text exceeds the compression
// threshold, compresses. Compression failure or incompressible input degrades
// to plaintext — Apply never fails.
func (p Policy) Apply(text string) Applied {
	stored, truncated := p.Truncate(text)
	a := Applied{
		Stored:       stored,
		Truncated:    truncated,
		OriginalSize: len(text),
	}
	if len(stored) <= p.CompressThreshold {
		return a
	}
	blob, err := Compress([]byte(stored))
	if err != nil {
		slog.Warn("text compression failed, storing plaintext", "err", err, "size", len(stored))
		return a
	}
	if len(blob) >= len(stored) {
		// Incompressible input; the plain string is cheaper.
		return a
	}
	a.Blob = blob
	a.Compressed = true
	return a
}
