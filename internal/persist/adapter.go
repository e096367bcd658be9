package persist

import (
	"context"
	"log/slog"

	"go.klb.dev/vestige/internal/entry"
	"go.klb.dev/vestige/internal/kv"
)

// Adapter plugs the kv store into the history as its persistence boundary.
// It satisfies store.Persister.
type Adapter struct {
	kvs *kv.Store
}

// NewAdapter returns an Adapter writing through kvs.
func NewAdapter(kvs *kv.Store) *Adapter {
	return &Adapter{kvs: kvs}
}

// Persist writes the full entry list. Failures are logged, never surfaced
// to the store.
func (a *Adapter) Persist(entries []entry.Entry) {
	if err := SaveHistory(context.Background(), a.kvs, entries); err != nil {
		slog.Warn("history save failed", "err", err, "entries", len(entries))
	}
}
