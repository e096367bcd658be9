// Package resource owns the on-disk binary payloads backing image entries.
//
// The manager is the only component that creates or deletes files in its blob
// directory. Entries reference files by id; a file lives exactly as long as
// some live entry references it, and the governor-driven orphan sweep removes
// anything left behind by a crash between a write and the owning entry
// becoming visible.
package resource

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "image/png" // clipboard images arrive PNG-encoded

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"golang.org/x/image/draw"
)

const (
	// Thumbnail bounding-box limits. Values outside are clamped.
	DefaultThumbMaxDim = 256
	MinThumbMaxDim     = 150
	MaxThumbMaxDim     = 320

	thumbJPEGQuality = 85

	// Files younger than this are never swept: they may belong to an entry
	// whose insert has not committed yet.
	defaultSweepGrace = time.Minute
)

// Manager persists and deletes image blobs under a dedicated directory.
type Manager struct {
	dir      string
	thumbMax int
	grace    time.Duration
}

// Option adjusts a Manager.
type Option func(*Manager)

// WithSweepGrace overrides the minimum age a file must reach before
// SweepOrphans may remove it. Used by tests.
func WithSweepGrace(d time.Duration) Option {
	return func(m *Manager) { m.grace = d }
}

// New creates the blob directory if needed and returns a Manager.
// thumbMaxDim is clamped into [MinThumbMaxDim, MaxThumbMaxDim].
func New(dir string, thumbMaxDim int, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob dir %s: %w", dir, err)
	}
	if thumbMaxDim < MinThumbMaxDim {
		thumbMaxDim = MinThumbMaxDim
	}
	if thumbMaxDim > MaxThumbMaxDim {
		thumbMaxDim = MaxThumbMaxDim
	}
	m := &Manager{dir: dir, thumbMax: thumbMaxDim, grace: defaultSweepGrace}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Dir returns the blob directory path.
func (m *Manager) Dir() string { return m.dir }

// ThumbMaxDim returns the effective thumbnail bounding dimension.
func (m *Manager) ThumbMaxDim() int { return m.thumbMax }

// Path resolves a blob reference to its on-disk path. The reference is
// reduced to its base name so a corrupt snapshot cannot point outside the
// blob directory.
func (m *Manager) Path(ref string) string {
	return filepath.Join(m.dir, filepath.Base(ref))
}

// SaveImage persists the full encoded image and a thumbnail, returning their
// references. The full image write is atomic and its failure fails the save;
// a thumbnail failure only degrades the result (empty thumbRef).
func (m *Manager) SaveImage(data []byte, width, height int) (ref, thumbRef string, err error) {
	ref = uuid.Must(uuid.NewV7()).String() + ".png"
	if err := atomic.WriteFile(m.Path(ref), bytes.NewReader(data)); err != nil {
		return "", "", fmt.Errorf("write image blob: %w", err)
	}

	thumb, err := m.renderThumb(data)
	if err != nil {
		slog.Warn("thumbnail generation failed, keeping full image only",
			"ref", ref, "width", width, "height", height, "err", err)
		return ref, "", nil
	}
	thumbRef = uuid.Must(uuid.NewV7()).String() + ".jpg"
	if err := atomic.WriteFile(m.Path(thumbRef), bytes.NewReader(thumb)); err != nil {
		slog.Warn("thumbnail write failed, keeping full image only", "ref", ref, "err", err)
		return ref, "", nil
	}
	return ref, thumbRef, nil
}

// renderThumb decodes data, downscales it into the thumbnail bounding box
// when it exceeds it, and re-encodes as JPEG. Alpha is flattened onto white
// since JPEG carries none.
func (m *Manager) renderThumb(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	tw, th := w, h
	if w > m.thumbMax || h > m.thumbMax {
		scale := math.Min(float64(m.thumbMax)/float64(w), float64(m.thumbMax)/float64(h))
		tw = int(math.Round(float64(w) * scale))
		th = int(math.Round(float64(h) * scale))
		if tw < 1 {
			tw = 1
		}
		if th < 1 {
			th = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadImage returns the raw bytes of a stored blob.
func (m *Manager) ReadImage(ref string) ([]byte, error) {
	b, err := os.ReadFile(m.Path(ref))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return b, nil
}

// Delete removes the named blobs. A missing file is a no-op: the entry
// lifecycle guarantees each ref is released exactly once, so anything already
// gone was removed by a sweep.
func (m *Manager) Delete(refs ...string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		err := os.Remove(m.Path(ref))
		switch {
		case err == nil:
			slog.Debug("blob deleted", "ref", ref)
		case os.IsNotExist(err):
			slog.Debug("blob already gone", "ref", ref)
		default:
			slog.Warn("blob delete failed", "ref", ref, "err", err)
		}
	}
}

// SweepOrphans deletes every file in the blob directory that is not in live
// and is older than the grace window. It returns the number of files removed.
// Only the memory governor calls this.
func (m *Manager) SweepOrphans(live map[string]struct{}) (int, error) {
	ents, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("read blob dir: %w", err)
	}

	cutoff := time.Now().Add(-m.grace)
	removed := 0
	for _, de := range ents {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if _, ok := live[name]; ok {
			continue
		}
		if info, err := de.Info(); err == nil && info.ModTime().After(cutoff) {
			continue // possibly an in-flight write
		}
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
			slog.Warn("orphan delete failed", "file", name, "err", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("orphan sweep removed files", "count", removed)
	}
	return removed, nil
}

// Usage reports the number of files and total bytes in the blob directory.
func (m *Manager) Usage() (files int, bytes int64) {
	ents, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, 0
	}
	for _, de := range ents {
		if de.IsDir() {
			continue
		}
		if info, err := de.Info(); err == nil {
			files++
			bytes += info.Size()
		}
	}
	return files, bytes
}
