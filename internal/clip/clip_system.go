//go:build linux || darwin || windows

package clip

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"runtime"

	"golang.design/x/clipboard"

	_ "image/png" // clipboard images arrive PNG-encoded
)

type systemBackend struct{}

// New returns the system clipboard backend, or a headless no-op backend if
// the display environment is unavailable (e.g. a headless server without X11
// or Wayland). clipboard.Init is called here rather than in init() so that
// CLI sub-commands that never construct a Backend don't trigger the warning.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return &headlessBackend{}
	}
	return &systemBackend{}
}

func (b *systemBackend) Name() string { return "system clipboard (" + runtime.GOOS + ")" }

func (b *systemBackend) ReadText() []byte {
	return clipboard.Read(clipboard.FmtText)
}

func (b *systemBackend) ReadImage() (Image, error) {
	data := clipboard.Read(clipboard.FmtImage)
	if len(data) == 0 {
		return Image{}, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decode clipboard image: %w", err)
	}
	return Image{Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}

func (b *systemBackend) WriteText(data []byte) error {
	clipboard.Write(clipboard.FmtText, data)
	return nil
}

func (b *systemBackend) WriteImage(data []byte) error {
	clipboard.Write(clipboard.FmtImage, data)
	return nil
}

func (b *systemBackend) Close() {}
