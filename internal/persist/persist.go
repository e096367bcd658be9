// Package persist maps the history and its settings onto the key/value
// store, so both survive daemon restarts.
//
// Persistence is strictly best-effort: a failed save is logged and the
// daemon keeps running; a corrupt stored snapshot loads as an empty history.
package persist

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"go.klb.dev/vestige/internal/entry"
	"go.klb.dev/vestige/internal/kv"
	"go.klb.dev/vestige/internal/resource"
	"go.klb.dev/vestige/internal/store"
	"go.klb.dev/vestige/internal/textpolicy"
)

// Keys in the kv store.
const (
	KeyHistory           = "history"
	KeyCapacity          = "capacity"
	KeyThumbMaxDim       = "thumb_max_dim"
	KeyTruncateLimit     = "truncate_limit"
	KeyCompressThreshold = "compress_threshold"
)

// SaveHistory serializes entries (most recent first) under KeyHistory.
func SaveHistory(ctx context.Context, kvs *kv.Store, entries []entry.Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return kvs.Set(ctx, KeyHistory, string(raw))
}

// LoadHistory returns the persisted entries, most recent first. Every
// failure mode — missing key, unreadable store, corrupt snapshot — degrades
// to an empty history with a log line; startup never fails on history.
func LoadHistory(ctx context.Context, kvs *kv.Store) []entry.Entry {
	raw, found, err := kvs.Get(ctx, KeyHistory)
	if err != nil {
		slog.Warn("history unreadable, starting empty", "err", err)
		return nil
	}
	if !found {
		return nil
	}
	var entries []entry.Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Warn("persisted history corrupt, starting empty", "err", err)
		return nil
	}
	return entries
}

// Settings are the persisted tunables, with their documented defaults.
type Settings struct {
	Capacity          int `json:"capacity"`
	ThumbMaxDim       int `json:"thumb_max_dim"`
	TruncateLimit     int `json:"truncate_limit"`
	CompressThreshold int `json:"compress_threshold"`
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		Capacity:          store.DefaultCapacity,
		ThumbMaxDim:       resource.DefaultThumbMaxDim,
		TruncateLimit:     textpolicy.DefaultTruncateLimit,
		CompressThreshold: textpolicy.DefaultCompressThreshold,
	}
}

// Clamp forces every field into its valid range.
func (s Settings) Clamp() Settings {
	if s.Capacity < store.MinCapacity {
		s.Capacity = store.MinCapacity
	}
	if s.ThumbMaxDim < resource.MinThumbMaxDim {
		s.ThumbMaxDim = resource.MinThumbMaxDim
	}
	if s.ThumbMaxDim > resource.MaxThumbMaxDim {
		s.ThumbMaxDim = resource.MaxThumbMaxDim
	}
	pol := s.Policy()
	s.TruncateLimit = pol.TruncateLimit
	s.CompressThreshold = pol.CompressThreshold
	return s
}

// Policy returns the clamped text policy these settings describe.
func (s Settings) Policy() textpolicy.Policy {
	return textpolicy.Policy{
		TruncateLimit:     s.TruncateLimit,
		CompressThreshold: s.CompressThreshold,
	}.Clamp()
}

// LoadSettings reads the persisted settings, falling back to defaults for
// missing or unparseable keys, and clamps the result.
func LoadSettings(ctx context.Context, kvs *kv.Store) Settings {
	s := Settings{
		Capacity:          loadInt(ctx, kvs, KeyCapacity, store.DefaultCapacity),
		ThumbMaxDim:       loadInt(ctx, kvs, KeyThumbMaxDim, resource.DefaultThumbMaxDim),
		TruncateLimit:     loadInt(ctx, kvs, KeyTruncateLimit, textpolicy.DefaultTruncateLimit),
		CompressThreshold: loadInt(ctx, kvs, KeyCompressThreshold, textpolicy.DefaultCompressThreshold),
	}
	return s.Clamp()
}

// SaveSettings persists every field under its key.
func SaveSettings(ctx context.Context, kvs *kv.Store, s Settings) error {
	fields := map[string]int{
		KeyCapacity:          s.Capacity,
		KeyThumbMaxDim:       s.ThumbMaxDim,
		KeyTruncateLimit:     s.TruncateLimit,
		KeyCompressThreshold: s.CompressThreshold,
	}
	for key, v := range fields {
		if err := kvs.Set(ctx, key, strconv.Itoa(v)); err != nil {
			return err
		}
	}
	return nil
}

// SaveCapacity persists just the capacity key. Used when the limit changes
// at runtime.
func SaveCapacity(ctx context.Context, kvs *kv.Store, capacity int) error {
	return kvs.Set(ctx, KeyCapacity, strconv.Itoa(capacity))
}

func loadInt(ctx context.Context, kvs *kv.Store, key string, def int) int {
	raw, err := kvs.GetDefault(ctx, key, strconv.Itoa(def))
	if err != nil {
		slog.Warn("setting unreadable, using default", "key", key, "default", def, "err", err)
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("setting malformed, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return v
}
