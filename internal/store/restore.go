package store

import (
	"log/slog"
	"os"

	"go.klb.dev/vestige/internal/entry"
	"go.klb.dev/vestige/internal/textpolicy"
)

// Restore replaces the store's contents with previously-persisted entries,
// most recent first. It re-validates everything it is handed: malformed
// entries, duplicate signatures, image entries whose blob files are gone,
// and overflow beyond capacity are all dropped. Blob refs owned only by
// dropped entries are released.
//
// Restore is meant for startup, before watchers and services run; it does
// not notify sinks.
func (s *Store) Restore(entries []entry.Entry) int {
	kept := make([]item, 0, min(len(entries), s.Capacity()))
	seen := make(map[entry.Signature]struct{}, len(entries))
	var dropped []entry.Entry

	for _, e := range entries {
		if !s.restorable(e) {
			dropped = append(dropped, e)
			continue
		}
		if _, dup := seen[e.Signature]; dup {
			slog.Warn("dropping restored entry, duplicate signature", "id", e.ID)
			dropped = append(dropped, e)
			continue
		}
		if len(kept) >= s.Capacity() {
			dropped = append(dropped, e)
			continue
		}
		sum, ok := s.resummarize(e)
		if !ok {
			dropped = append(dropped, e)
			continue
		}
		seen[e.Signature] = struct{}{}
		kept = append(kept, item{e, sum})
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0
	}
	s.items = kept
	s.mu.Unlock()

	// Refs held only by dropped entries are dead; anything shared with a
	// kept entry stays.
	live := s.LiveRefs()
	var released []string
	for _, e := range dropped {
		for _, ref := range e.Refs() {
			if _, ok := live[ref]; !ok {
				released = append(released, ref)
			}
		}
	}
	s.res.Delete(released...)

	return len(kept)
}

// restorable reports whether a persisted entry is structurally sound and,
// for images, whether its blob file still exists on disk.
func (s *Store) restorable(e entry.Entry) bool {
	if e.ID == "" || e.Signature == "" {
		slog.Warn("dropping restored entry, missing identity", "id", e.ID)
		return false
	}
	switch e.Kind {
	case entry.KindText:
		return true
	case entry.KindImage:
		if e.ImageRef == "" || e.Width <= 0 || e.Height <= 0 {
			slog.Warn("dropping restored image entry, malformed", "id", e.ID)
			return false
		}
		if _, err := os.Stat(s.res.Path(e.ImageRef)); err != nil {
			slog.Warn("dropping restored image entry, blob missing", "id", e.ID, "ref", e.ImageRef)
			return false
		}
		return true
	default:
		slog.Warn("dropping restored entry, unknown kind", "id", e.ID, "kind", e.Kind)
		return false
	}
}

// resummarize rebuilds the projection for a restored entry, decompressing
// text once if needed.
func (s *Store) resummarize(e entry.Entry) (entry.Summary, bool) {
	stored := e.Text
	if e.Kind == entry.KindText && e.Compressed {
		raw, err := textpolicy.Decompress(e.Blob)
		if err != nil {
			slog.Warn("dropping restored entry, blob unreadable", "id", e.ID, "err", err)
			return entry.Summary{}, false
		}
		stored = string(raw)
	}
	return s.summarize(e, stored), true
}
