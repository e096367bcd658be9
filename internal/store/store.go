// Package store implements the bounded, ordered clipboard history.
//
// A single move-to-front sequence governs both presentation order and
// eviction order: inserts and duplicate detections relocate to the head,
// evictions take the tail. At most one live entry exists per content
// signature, and the length never exceeds the configured capacity after any
// public operation returns.
//
// All mutations run in one critical section. Heavy work — image persistence,
// blob deletion, sink notification — happens outside it, and an entry is
// never observable until its resources are fully persisted.
package store

import (
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.klb.dev/vestige/internal/entry"
	"go.klb.dev/vestige/internal/fingerprint"
	"go.klb.dev/vestige/internal/resource"
	"go.klb.dev/vestige/internal/textpolicy"
)

const (
	DefaultCapacity = 20
	MinCapacity     = 1
)

// Sink receives the lightweight projection after every committed mutation.
// Implementations must not block: they are called on the mutating goroutine.
type Sink interface {
	Push(snapshot []entry.Summary)
}

// Persister receives the full entry list after every committed mutation and
// once more on Stop.
type Persister interface {
	Persist(entries []entry.Entry)
}

// Stats are the store's monotonic counters plus current occupancy.
type Stats struct {
	Entries    int    `json:"entries"`
	Capacity   int    `json:"capacity"`
	Inserts    uint64 `json:"inserts"`
	Duplicates uint64 `json:"duplicates"`
	Evictions  uint64 `json:"evictions"`
	Rejected   uint64 `json:"rejected"`
	TextBytes  int    `json:"text_bytes"`
}

// item pairs an entry with its precomputed projection so snapshots never
// decompress anything.
type item struct {
	ent entry.Entry
	sum entry.Summary
}

// Store is the authoritative clipboard history.
type Store struct {
	res *resource.Manager
	pol textpolicy.Policy
	now func() time.Time

	mu       sync.Mutex
	items    []item // most-recent-first
	capacity int
	stopped  bool
	inserts  uint64
	dups     uint64
	evicts   uint64
	rejects  uint64

	sinkMu    sync.RWMutex
	sinks     []Sink
	persister Persister
}

// Option adjusts a Store at construction.
type Option func(*Store)

// WithNow injects the clock used for entry timestamps. Used by tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store. Capacity below MinCapacity is raised to it.
func New(capacity int, res *resource.Manager, pol textpolicy.Policy, opts ...Option) *Store {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	s := &Store{
		res:      res,
		pol:      pol,
		now:      time.Now,
		capacity: capacity,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddSink registers a presentation sink. Register before mutations begin.
func (s *Store) AddSink(sink Sink) {
	s.sinkMu.Lock()
	s.sinks = append(s.sinks, sink)
	s.sinkMu.Unlock()
}

// SetPersister registers the persistence adapter. Only one is supported;
// calling again replaces it.
func (s *Store) SetPersister(p Persister) {
	s.sinkMu.Lock()
	s.persister = p
	s.sinkMu.Unlock()
}

// InsertText adds a text entry. Empty text is rejected as a silent no-op.
// Never fails: degradations are logged.
func (s *Store) InsertText(text string) {
	if len(text) == 0 {
		s.reject()
		return
	}
	a := s.pol.Apply(text)
	sig := fingerprint.Text(a.Stored)

	e := entry.Entry{
		ID:           entry.NewID(),
		Kind:         entry.KindText,
		Signature:    sig,
		CreatedAt:    s.now(),
		OriginalSize: a.OriginalSize,
		Truncated:    a.Truncated,
	}
	if a.Compressed {
		e.Compressed = true
		e.Blob = a.Blob
	} else {
		e.Text = a.Stored
	}
	s.commit(e, s.summarize(e, a.Stored))
}

// InsertImage adds an image entry from its encoded bytes and pixel
// dimensions. Empty data or a zero-area image is rejected as a silent no-op.
// Duplicate content reuses the existing entry's blob files; novel content is
// persisted before the entry becomes visible. Never fails.
func (s *Store) InsertImage(data []byte, width, height int) {
	if len(data) == 0 || width <= 0 || height <= 0 {
		s.reject()
		return
	}
	sig := fingerprint.Image(data, width, height)

	// Identical bytes already live in the store: refresh in place, no file IO.
	if s.refreshDuplicate(sig) {
		return
	}

	ref, thumbRef, err := s.res.SaveImage(data, width, height)
	if err != nil {
		slog.Warn("image insert dropped, blob persistence failed", "err", err)
		s.reject()
		return
	}

	e := entry.Entry{
		ID:        entry.NewID(),
		Kind:      entry.KindImage,
		Signature: sig,
		CreatedAt: s.now(),
		ImageRef:  ref,
		ThumbRef:  thumbRef,
		Width:     width,
		Height:    height,
	}
	s.commit(e, s.summarize(e, ""))
}

// Remove deletes the entry with the given id, releasing its resources.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	idx := s.indexByIDLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	victim := s.items[idx]
	s.items = slices.Delete(s.items, idx, idx+1)
	snap, full := s.viewsLocked()
	s.mu.Unlock()

	s.res.Delete(victim.ent.Refs()...)
	s.notify(snap, full)
	return true
}

// Touch moves the entry with the given id to the head with a fresh id and
// refreshed timestamp, leaving content and files untouched. The recall path
// uses it so stored text is never re-ingested through the text policy.
// It reports whether the entry existed.
func (s *Store) Touch(id string) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	idx := s.indexByIDLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	it := s.items[idx]
	it.ent.ID = entry.NewID()
	it.ent.CreatedAt = s.now()
	it.sum.ID = it.ent.ID
	it.sum.CreatedAt = it.ent.CreatedAt

	s.items = slices.Delete(s.items, idx, idx+1)
	s.items = slices.Insert(s.items, 0, it)
	snap, full := s.viewsLocked()
	s.mu.Unlock()

	s.notify(snap, full)
	return true
}

// Clear empties the store, releasing every entry's resources.
func (s *Store) Clear() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	victims := s.items
	s.items = nil
	snap, full := s.viewsLocked()
	s.mu.Unlock()

	var released []string
	for _, it := range victims {
		released = append(released, it.ent.Refs()...)
	}
	s.res.Delete(released...)
	s.notify(snap, full)
}

// SetCapacity changes the bound, evicting tail entries immediately when the
// new capacity is smaller. Values below MinCapacity are raised to it.
func (s *Store) SetCapacity(n int) {
	if n < MinCapacity {
		n = MinCapacity
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.capacity = n
	released, evicted := s.evictOverflowLocked(n)
	var snap []entry.Summary
	var full []entry.Entry
	if evicted > 0 {
		snap, full = s.viewsLocked()
	}
	s.mu.Unlock()

	if evicted > 0 {
		s.res.Delete(released...)
		s.notify(snap, full)
	}
}

// TrimTo evicts tail entries until at most n remain, without changing the
// configured capacity. The governor uses it for working-capacity trims.
// It returns the number of entries evicted.
func (s *Store) TrimTo(n int) int {
	if n < MinCapacity {
		n = MinCapacity
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0
	}
	released, evicted := s.evictOverflowLocked(n)
	var snap []entry.Summary
	var full []entry.Entry
	if evicted > 0 {
		snap, full = s.viewsLocked()
	}
	s.mu.Unlock()

	if evicted == 0 {
		return 0
	}
	s.res.Delete(released...)
	s.notify(snap, full)
	return evicted
}

// Capacity returns the configured bound.
func (s *Store) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// Len returns the current number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot returns a lazy, restartable, read-only view of the committed
// history, most recent first. Each iteration observes the state at the moment
// it starts; mutations in flight are invisible until they commit.
func (s *Store) Snapshot() iter.Seq[entry.Summary] {
	return func(yield func(entry.Summary) bool) {
		for _, sum := range s.Summaries() {
			if !yield(sum) {
				return
			}
		}
	}
}

// Summaries returns the committed projections, most recent first.
func (s *Store) Summaries() []entry.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := make([]entry.Summary, len(s.items))
	for i, it := range s.items {
		sums[i] = it.sum
	}
	return sums
}

// Get returns the entry with the given id, with text decompressed — callers
// never see a compressed blob. ok is false when the id is unknown or the
// blob cannot be decompressed.
func (s *Store) Get(id string) (entry.Entry, bool) {
	s.mu.Lock()
	idx := s.indexByIDLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return entry.Entry{}, false
	}
	e := s.items[idx].ent
	s.mu.Unlock()

	if e.Compressed {
		raw, err := textpolicy.Decompress(e.Blob)
		if err != nil {
			slog.Error("stored text blob is unreadable", "id", id, "err", err)
			return entry.Entry{}, false
		}
		e.Text = string(raw)
		e.Blob = nil
		e.Compressed = false
	}
	return e, true
}

// LiveRefs returns the set of blob references held by live entries.
// The governor passes it to the orphan sweep.
func (s *Store) LiveRefs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := make(map[string]struct{}, len(s.items)*2)
	for _, it := range s.items {
		for _, ref := range it.ent.Refs() {
			live[ref] = struct{}{}
		}
	}
	return live
}

// Stats returns current occupancy and the monotonic counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Entries:    len(s.items),
		Capacity:   s.capacity,
		Inserts:    s.inserts,
		Duplicates: s.dups,
		Evictions:  s.evicts,
		Rejected:   s.rejects,
	}
	for _, it := range s.items {
		st.TextBytes += len(it.ent.Text) + len(it.ent.Blob)
	}
	return st
}

// Stop makes all further mutations no-ops and runs a final persist.
// Idempotent. Reads remain available.
func (s *Store) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	_, full := s.viewsLocked()
	s.mu.Unlock()

	s.sinkMu.RLock()
	p := s.persister
	s.sinkMu.RUnlock()
	if p != nil {
		p.Persist(full)
	}
}

// refreshDuplicate implements the no-IO duplicate path: when an entry with
// sig exists, it is replaced by a fresh entry (new id, refreshed timestamp)
// that inherits the old entry's blob references, relocated to the head.
func (s *Store) refreshDuplicate(sig entry.Signature) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return true
	}
	idx := s.indexBySigLocked(sig)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	old := s.items[idx]
	fresh := old.ent
	fresh.ID = entry.NewID()
	fresh.CreatedAt = s.now()
	sum := old.sum
	sum.ID = fresh.ID
	sum.CreatedAt = fresh.CreatedAt

	s.items = slices.Delete(s.items, idx, idx+1)
	s.items = slices.Insert(s.items, 0, item{fresh, sum})
	s.inserts++
	s.dups++
	snap, full := s.viewsLocked()
	s.mu.Unlock()

	s.notify(snap, full)
	return true
}

// commit prepends a fully-constructed entry, removing any same-signature
// predecessor and evicting overflow from the tail. Blob releases and sink
// notification happen after the critical section.
func (s *Store) commit(e entry.Entry, sum entry.Summary) {
	var released []string

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		// The entry never became visible; its freshly-written blobs must not
		// outlive this call.
		s.res.Delete(e.Refs()...)
		return
	}
	if idx := s.indexBySigLocked(e.Signature); idx >= 0 {
		old := s.items[idx]
		s.items = slices.Delete(s.items, idx, idx+1)
		released = append(released, old.ent.Refs()...)
		s.dups++
	}
	s.items = slices.Insert(s.items, 0, item{e, sum})
	s.inserts++
	overflow, _ := s.evictOverflowLocked(s.capacity)
	released = append(released, overflow...)
	snap, full := s.viewsLocked()
	s.mu.Unlock()

	s.res.Delete(released...)
	s.notify(snap, full)
}

// evictOverflowLocked drops tail entries until at most bound remain,
// returning the blob refs they held and the entry count dropped.
// Must be called with s.mu held.
func (s *Store) evictOverflowLocked(bound int) ([]string, int) {
	var released []string
	evicted := 0
	for len(s.items) > bound {
		victim := s.items[len(s.items)-1]
		s.items = s.items[:len(s.items)-1]
		released = append(released, victim.ent.Refs()...)
		s.evicts++
		evicted++
	}
	return released, evicted
}

// viewsLocked copies the committed projections and full entries for
// notification. Must be called with s.mu held.
func (s *Store) viewsLocked() ([]entry.Summary, []entry.Entry) {
	sums := make([]entry.Summary, len(s.items))
	ents := make([]entry.Entry, len(s.items))
	for i, it := range s.items {
		sums[i] = it.sum
		ents[i] = it.ent
	}
	return sums, ents
}

func (s *Store) indexBySigLocked(sig entry.Signature) int {
	return slices.IndexFunc(s.items, func(it item) bool { return it.ent.Signature == sig })
}

func (s *Store) indexByIDLocked(id string) int {
	return slices.IndexFunc(s.items, func(it item) bool { return it.ent.ID == id })
}

func (s *Store) reject() {
	s.mu.Lock()
	s.rejects++
	s.mu.Unlock()
}

// summarize builds the lightweight projection for e. stored is the plaintext
// for text entries; projections carry it whole only below the compression
// threshold, a bounded preview otherwise.
func (s *Store) summarize(e entry.Entry, stored string) entry.Summary {
	sum := entry.Summary{
		ID:        e.ID,
		Kind:      e.Kind,
		CreatedAt: e.CreatedAt,
	}
	switch e.Kind {
	case entry.KindText:
		sum.Size = len(stored)
		sum.Truncated = e.Truncated
		if len(stored) <= s.pol.CompressThreshold {
			sum.Text = stored
		} else {
			sum.Text = entry.Preview(stored, entry.PreviewLimit)
		}
	case entry.KindImage:
		sum.ThumbRef = e.ThumbRef
		sum.Width = e.Width
		sum.Height = e.Height
	}
	return sum
}

// notify pushes the committed views to sinks and the persister, in
// registration order, on the mutating goroutine.
func (s *Store) notify(snap []entry.Summary, full []entry.Entry) {
	s.sinkMu.RLock()
	sinks := s.sinks
	p := s.persister
	s.sinkMu.RUnlock()

	for _, sink := range sinks {
		sink.Push(snap)
	}
	if p != nil {
		p.Persist(full)
	}
}
