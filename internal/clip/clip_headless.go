package clip

// headlessBackend is a no-op clipboard backend for environments without a
// display server (headless Linux servers, containers, etc.).
// Reads see an empty clipboard and writes are silently discarded.
type headlessBackend struct{}

func (b *headlessBackend) Name() string              { return "headless (no-op)" }
func (b *headlessBackend) ReadText() []byte          { return nil }
func (b *headlessBackend) ReadImage() (Image, error) { return Image{}, nil }
func (b *headlessBackend) WriteText(_ []byte) error  { return nil }
func (b *headlessBackend) WriteImage(_ []byte) error { return nil }
func (b *headlessBackend) Close()                    {}
