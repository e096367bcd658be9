// Package clip provides a unified interface to the system clipboard across
// platforms. Build constraints select the appropriate implementation:
//
//	clip_system.go   — Linux, macOS, Windows via golang.design/x/clipboard
//	clip_other.go    — headless / container stub
//
// Backends expose content access only; change detection and its polling
// cadence live in the watch package.
package clip

// Image is an encoded clipboard image plus its pixel dimensions.
type Image struct {
	Data   []byte
	Width  int
	Height int
}

// Empty reports whether the clipboard held no image.
func (i Image) Empty() bool { return len(i.Data) == 0 }

// Backend is the interface that all platform clipboard implementations
// satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// ReadText returns the current textual clipboard contents, or nil when
	// the clipboard holds no text.
	ReadText() []byte

	// ReadImage returns the current image clipboard contents as encoded
	// bytes with decoded dimensions. An empty Image and nil error mean the
	// clipboard holds no image; an error means it holds one that could not
	// be decoded.
	ReadImage() (Image, error)

	// WriteText sets the clipboard to the given text.
	WriteText(data []byte) error

	// WriteImage sets the clipboard to the given PNG-encoded image.
	WriteImage(data []byte) error

	// Close releases any resources held by the backend.
	Close()
}
