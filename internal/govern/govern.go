// Package govern watches process memory pressure and reclaims history
// resources when it rises.
//
// The governor is a three-state machine: idle, cleaning, aggressive-cleaning.
// An elevated heap sample triggers a normal clean, rate-limited by a
// cooldown. A critical sample triggers an aggressive clean immediately,
// cooldown or not, shrinking the history to a reduced working size.
package govern

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

const (
	DefaultWarnBytes = 64 << 20
	DefaultCritBytes = 128 << 20
	DefaultInterval  = 45 * time.Second
	DefaultCooldown  = 5 * time.Minute
)

// State names the governor's current activity.
type State string

const (
	StateIdle       State = "idle"
	StateCleaning   State = "cleaning"
	StateAggressive State = "aggressive-cleaning"
)

// History is the slice of the entry store the governor acts on.
type History interface {
	Capacity() int
	TrimTo(n int) int
	LiveRefs() map[string]struct{}
}

// Blobs is the slice of the resource manager the governor acts on.
type Blobs interface {
	SweepOrphans(live map[string]struct{}) (int, error)
}

// Stats is a snapshot of the governor's counters.
type Stats struct {
	State            State     `json:"state"`
	HeapBytes        uint64    `json:"heap_bytes"`
	Cleans           uint64    `json:"cleans"`
	AggressiveCleans uint64    `json:"aggressive_cleans"`
	TrimmedEntries   uint64    `json:"trimmed_entries"`
	SweptBlobs       uint64    `json:"swept_blobs"`
	LastClean        time.Time `json:"last_clean,omitempty"`
}

// Governor samples heap usage and cleans the history under pressure.
type Governor struct {
	hist     History
	blobs    Blobs
	warn     uint64
	crit     uint64
	cooldown time.Duration
	interval time.Duration
	sample   func() uint64
	now      func() time.Time
	gc       func()
	free     func()

	mu         sync.Mutex
	state      State
	lastSample uint64
	lastClean  time.Time
	cleans     uint64
	aggressive uint64
	trimmed    uint64
	swept      uint64
}

// Option adjusts a Governor at construction.
type Option func(*Governor)

// WithThresholds overrides the warn and critical heap sizes in bytes.
// Zero values keep the defaults; crit is raised to warn when inverted.
func WithThresholds(warn, crit uint64) Option {
	return func(g *Governor) {
		if warn > 0 {
			g.warn = warn
		}
		if crit > 0 {
			g.crit = crit
		}
	}
}

// WithInterval overrides the sampling period used by Run.
func WithInterval(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithCooldown overrides the minimum spacing between normal cleans.
func WithCooldown(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.cooldown = d
		}
	}
}

// WithSampler injects the heap sampler. Used by tests.
func WithSampler(sample func() uint64) Option {
	return func(g *Governor) { g.sample = sample }
}

// WithNow injects the clock used for cooldown arithmetic. Used by tests.
func WithNow(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// New returns an idle governor acting on hist and blobs.
func New(hist History, blobs Blobs, opts ...Option) *Governor {
	g := &Governor{
		hist:     hist,
		blobs:    blobs,
		warn:     DefaultWarnBytes,
		crit:     DefaultCritBytes,
		cooldown: DefaultCooldown,
		interval: DefaultInterval,
		sample:   heapAlloc,
		now:      time.Now,
		gc:       runtime.GC,
		free:     debug.FreeOSMemory,
		state:    StateIdle,
	}
	for _, o := range opts {
		o(g)
	}
	if g.crit < g.warn {
		g.crit = g.warn
	}
	return g
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Run samples on a ticker until ctx is canceled.
func (g *Governor) Run(ctx context.Context) {
	slog.Debug("memory governor running",
		"interval", g.interval,
		"warn_bytes", g.warn,
		"crit_bytes", g.crit)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("memory governor stopped")
			return
		case <-ticker.C:
			g.Check()
		}
	}
}

// Check takes one heap sample and reacts to it. It returns the state the
// sample put the governor in: StateIdle when nothing was done.
func (g *Governor) Check() State {
	sampled := g.sample()

	g.mu.Lock()
	g.lastSample = sampled
	if g.state != StateIdle {
		st := g.state
		g.mu.Unlock()
		return st
	}
	switch {
	case sampled >= g.crit:
		g.state = StateAggressive
	case sampled >= g.warn:
		if g.now().Sub(g.lastClean) < g.cooldown {
			g.mu.Unlock()
			slog.Debug("memory elevated, clean suppressed by cooldown", "heap_bytes", sampled)
			return StateIdle
		}
		g.state = StateCleaning
	default:
		g.mu.Unlock()
		return StateIdle
	}
	st := g.state
	g.mu.Unlock()

	g.clean(st == StateAggressive, sampled)
	return st
}

// clean trims the history, releases memory, and sweeps orphaned blobs.
// Aggressive cleans shrink the history to half its capacity.
func (g *Governor) clean(aggressive bool, sampled uint64) {
	target := g.hist.Capacity()
	if aggressive {
		target = max(1, target/2)
	}
	trimmed := g.hist.TrimTo(target)

	if aggressive {
		g.free()
	} else {
		g.gc()
	}

	swept, err := g.blobs.SweepOrphans(g.hist.LiveRefs())
	if err != nil {
		slog.Warn("orphan sweep failed", "err", err)
	}

	slog.Info("memory pressure clean",
		"aggressive", aggressive,
		"heap_bytes", sampled,
		"trimmed", trimmed,
		"swept", swept)

	g.mu.Lock()
	g.lastClean = g.now()
	if aggressive {
		g.aggressive++
	} else {
		g.cleans++
	}
	g.trimmed += uint64(trimmed)
	g.swept += uint64(swept)
	g.state = StateIdle
	g.mu.Unlock()
}

// Stats returns a snapshot of the governor's counters.
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		State:            g.state,
		HeapBytes:        g.lastSample,
		Cleans:           g.cleans,
		AggressiveCleans: g.aggressive,
		TrimmedEntries:   g.trimmed,
		SweptBlobs:       g.swept,
		LastClean:        g.lastClean,
	}
}
