// Package fingerprint computes content signatures for deduplication.
//
// Signatures are SHA-256 over the full content — never a length-plus-prefix
// sample, which under-deduplicates the moment two payloads share a head. A
// short domain tag keeps text and image signature spaces disjoint, and image
// signatures mix in the pixel dimensions so re-encodes of the same byte
// stream at different claimed sizes stay distinct.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"go.klb.dev/vestige/internal/entry"
)

// Text returns the signature of a text payload.
func Text(s string) entry.Signature {
	h := sha256.New()
	h.Write([]byte("text\x00"))
	h.Write([]byte(s))
	return entry.Signature(hex.EncodeToString(h.Sum(nil)))
}

// Image returns the signature of an encoded image payload.
func Image(data []byte, width, height int) entry.Signature {
	h := sha256.New()
	h.Write([]byte("image\x00"))
	var dims [16]byte
	binary.LittleEndian.PutUint64(dims[0:8], uint64(width))
	binary.LittleEndian.PutUint64(dims[8:16], uint64(height))
	h.Write(dims[:])
	h.Write(data)
	return entry.Signature(hex.EncodeToString(h.Sum(nil)))
}
