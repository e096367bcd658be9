// Package watch polls the system clipboard and feeds novel content into the
// history.
//
// Polling is adaptive: a quiet clipboard stretches the interval geometrically
// from the base up to a cap, and any detected change snaps it back to base.
// Novelty is decided against the last offered content with whole-byte
// equality, so a poll of unchanged content costs no hashing and no policy
// work. Images win over text when both are present.
package watch

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go.klb.dev/vestige/internal/clip"
	"go.klb.dev/vestige/internal/entry"
)

const (
	DefaultBaseInterval = 2 * time.Second
	DefaultMaxInterval  = 10 * time.Second

	// DefaultBackoffAfter is how many consecutive unchanged polls run at the
	// base interval before escalation starts.
	DefaultBackoffAfter = 5

	backoffMultiplier = 1.5
)

// History is the slice of the entry store the detector feeds.
type History interface {
	InsertText(text string)
	InsertImage(data []byte, width, height int)
}

// Stats is a snapshot of the detector's counters.
type Stats struct {
	Polls      uint64        `json:"polls"`
	Captures   uint64        `json:"captures"`
	ReadErrors uint64        `json:"read_errors"`
	Interval   time.Duration `json:"interval"`
}

// cadence computes the delay before the next poll. Not safe for concurrent
// use; only the Run loop touches it.
type cadence struct {
	base      time.Duration
	after     int
	unchanged int
	eb        *backoff.ExponentialBackOff
}

func newCadence(base, max time.Duration, after int) *cadence {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.MaxInterval = max
	eb.Multiplier = backoffMultiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	c := &cadence{base: base, after: after, eb: eb}
	c.reset()
	return c
}

// reset restarts escalation from scratch. The initial backoff interval is
// consumed immediately so that the first escalated delay already sits above
// base.
func (c *cadence) reset() {
	c.unchanged = 0
	c.eb.Reset()
	_ = c.eb.NextBackOff()
}

// next returns the delay before the following poll given the outcome of the
// one that just ran.
func (c *cadence) next(changed bool) time.Duration {
	if changed {
		c.reset()
		return c.base
	}
	c.unchanged++
	if c.unchanged < c.after {
		return c.base
	}
	return c.eb.NextBackOff()
}

// Detector owns the clipboard poll loop.
type Detector struct {
	backend clip.Backend
	hist    History
	cad     *cadence

	// mu guards the counters and the last-offered candidate. The candidate
	// is also written by NoteText/NoteImage from other goroutines.
	mu         sync.Mutex
	lastKind   entry.Kind
	lastText   []byte
	lastImage  []byte
	lastW      int
	lastH      int
	polls      uint64
	captures   uint64
	readErrors uint64
	delay      time.Duration
}

// Option adjusts a Detector at construction.
type Option func(*Detector)

// WithIntervals overrides the base and maximum poll intervals.
func WithIntervals(base, max time.Duration) Option {
	return func(d *Detector) {
		if base <= 0 {
			base = DefaultBaseInterval
		}
		if max < base {
			max = base
		}
		d.cad = newCadence(base, max, d.cad.after)
		d.delay = base
	}
}

// WithBackoffAfter overrides how many unchanged polls precede escalation.
func WithBackoffAfter(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.cad = newCadence(d.cad.base, d.cad.eb.MaxInterval, n)
		}
	}
}

// New returns a detector reading from backend and inserting into hist.
func New(backend clip.Backend, hist History, opts ...Option) *Detector {
	d := &Detector{
		backend: backend,
		hist:    hist,
		cad:     newCadence(DefaultBaseInterval, DefaultMaxInterval, DefaultBackoffAfter),
		delay:   DefaultBaseInterval,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run polls until ctx is canceled.
func (d *Detector) Run(ctx context.Context) {
	slog.Info("clipboard watcher running",
		"backend", d.backend.Name(),
		"base_interval", d.cad.base,
		"max_interval", d.cad.eb.MaxInterval)

	timer := time.NewTimer(d.cad.base)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("clipboard watcher stopped")
			return
		case <-timer.C:
		}
		delay := d.cad.next(d.poll())
		d.mu.Lock()
		d.delay = delay
		d.mu.Unlock()
		timer.Reset(delay)
	}
}

// Stats returns a snapshot of the detector's counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Polls:      d.polls,
		Captures:   d.captures,
		ReadErrors: d.readErrors,
		Interval:   d.delay,
	}
}

// poll reads the clipboard once and reports whether novel content was
// offered to the history. Read failures are logged and absorbed; the loop
// never dies on them.
func (d *Detector) poll() bool {
	d.count(&d.polls)

	img, err := d.backend.ReadImage()
	if err != nil {
		slog.Warn("clipboard image read failed", "err", err)
		d.count(&d.readErrors)
	} else if !img.Empty() {
		return d.offerImage(img)
	}

	if text := d.backend.ReadText(); len(text) > 0 {
		return d.offerText(text)
	}
	return false
}

func (d *Detector) offerImage(img clip.Image) bool {
	d.mu.Lock()
	if d.lastKind == entry.KindImage &&
		d.lastW == img.Width && d.lastH == img.Height &&
		bytes.Equal(d.lastImage, img.Data) {
		d.mu.Unlock()
		return false
	}
	d.noteImageLocked(img.Data, img.Width, img.Height)
	d.captures++
	d.mu.Unlock()

	d.hist.InsertImage(img.Data, img.Width, img.Height)
	slog.Debug("clipboard image captured", "bytes", len(img.Data), "width", img.Width, "height", img.Height)
	return true
}

func (d *Detector) offerText(text []byte) bool {
	d.mu.Lock()
	if d.lastKind == entry.KindText && bytes.Equal(d.lastText, text) {
		d.mu.Unlock()
		return false
	}
	d.noteTextLocked(text)
	d.captures++
	d.mu.Unlock()

	d.hist.InsertText(string(text))
	slog.Debug("clipboard text captured", "bytes", len(text))
	return true
}

// NoteText records text the daemon itself placed on the clipboard, so the
// next poll does not capture it again as a user copy.
func (d *Detector) NoteText(text []byte) {
	d.mu.Lock()
	d.noteTextLocked(text)
	d.mu.Unlock()
}

// NoteImage is NoteText for image content.
func (d *Detector) NoteImage(data []byte, width, height int) {
	d.mu.Lock()
	d.noteImageLocked(data, width, height)
	d.mu.Unlock()
}

func (d *Detector) noteTextLocked(text []byte) {
	d.lastKind = entry.KindText
	d.lastText = text
	d.lastImage = nil
	d.lastW, d.lastH = 0, 0
}

func (d *Detector) noteImageLocked(data []byte, width, height int) {
	d.lastKind = entry.KindImage
	d.lastImage = data
	d.lastW, d.lastH = width, height
	d.lastText = nil
}

func (d *Detector) count(c *uint64) {
	d.mu.Lock()
	*c++
	d.mu.Unlock()
}
