package service

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/vestige/internal/clip"
	"go.klb.dev/vestige/internal/entry"
	"go.klb.dev/vestige/internal/govern"
	"go.klb.dev/vestige/internal/message"
	"go.klb.dev/vestige/internal/resource"
	"go.klb.dev/vestige/internal/store"
	"go.klb.dev/vestige/internal/textpolicy"
	"go.klb.dev/vestige/internal/watch"
	"go.klb.dev/vestige/internal/wire"
)

type fakeClipboard struct {
	mu         sync.Mutex
	texts      [][]byte
	images     [][]byte
	failWrites bool
}

func (f *fakeClipboard) Name() string                   { return "test" }
func (f *fakeClipboard) ReadText() []byte               { return nil }
func (f *fakeClipboard) ReadImage() (clip.Image, error) { return clip.Image{}, nil }
func (f *fakeClipboard) Close()                         {}

func (f *fakeClipboard) WriteText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("clipboard gone")
	}
	f.texts = append(f.texts, data)
	return nil
}

func (f *fakeClipboard) WriteImage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("clipboard gone")
	}
	f.images = append(f.images, data)
	return nil
}

func (f *fakeClipboard) wroteTexts() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.texts...)
}

func (f *fakeClipboard) wroteImages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.images...)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.Store, *fakeClipboard, *resource.Manager) {
	t.Helper()
	res, err := resource.New(t.TempDir(), resource.DefaultThumbMaxDim, resource.WithSweepGrace(0))
	require.NoError(t, err)
	st := store.New(5, res, textpolicy.Default())
	backend := &fakeClipboard{}
	svc := New(st, backend, res, opts...)
	st.AddSink(svc)
	return svc, st, backend, res
}

// dial connects a client to the service over an in-process pipe.
func dial(t *testing.T, s *Service) *wire.Conn {
	t.Helper()
	cli, srv := net.Pipe()
	go s.handle(srv)
	t.Cleanup(func() { cli.Close() })
	return wire.New(cli)
}

func request(t *testing.T, wc *wire.Conn, msg *message.Message) *message.Message {
	t.Helper()
	require.NoError(t, wc.WriteMsg(msg))
	resp, err := wc.ReadMsg()
	require.NoError(t, err)
	return resp
}

func TestHistoryRequest(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	st.InsertText("first")
	st.InsertText("second")

	resp := request(t, dial(t, svc), &message.Message{Type: message.TypeHistory})

	assert.Equal(t, message.TypeHistoryResponse, resp.Type)
	assert.Equal(t, 5, resp.Capacity)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "second", resp.Entries[0].Text)
	assert.Equal(t, "first", resp.Entries[1].Text)
}

func TestRecallPlacesTextOnClipboardAndMovesToHead(t *testing.T) {
	svc, st, backend, _ := newTestService(t)
	st.InsertText("older")
	st.InsertText("newest")
	older := st.Summaries()[1]

	resp := request(t, dial(t, svc), &message.Message{Type: message.TypeRecall, ID: older.ID})

	assert.Equal(t, message.TypeOK, resp.Type)
	require.Len(t, backend.wroteTexts(), 1)
	assert.Equal(t, []byte("older"), backend.wroteTexts()[0])

	sums := st.Summaries()
	assert.Equal(t, 2, st.Len())
	assert.Equal(t, "older", sums[0].Text)
	assert.NotEqual(t, older.ID, sums[0].ID)
}

func TestRecallPrintReturnsPayloadWithoutRecopying(t *testing.T) {
	svc, st, backend, _ := newTestService(t)
	st.InsertText("target")
	st.InsertText("head")
	target := st.Summaries()[1]

	resp := request(t, dial(t, svc), &message.Message{Type: message.TypeRecall, ID: target.ID, Print: true})

	require.Equal(t, message.TypePayload, resp.Type)
	require.NotNil(t, resp.Payload)
	assert.Equal(t, "target", resp.Payload.Text)
	assert.Equal(t, entry.KindText, resp.Payload.Kind)

	assert.Empty(t, backend.wroteTexts(), "print must not touch the clipboard")
	assert.Equal(t, "head", st.Summaries()[0].Text, "print must not reorder")
}

func TestRecallImageRoundTrip(t *testing.T) {
	svc, st, backend, _ := newTestService(t)
	data := testPNG(t, 4, 4)
	st.InsertImage(data, 4, 4)
	id := st.Summaries()[0].ID

	wc := dial(t, svc)
	resp := request(t, wc, &message.Message{Type: message.TypeRecall, ID: id, Print: true})
	require.Equal(t, message.TypePayload, resp.Type)
	assert.Equal(t, data, resp.Payload.Data)
	assert.Equal(t, 4, resp.Payload.Width)
	assert.Equal(t, 4, resp.Payload.Height)

	resp = request(t, wc, &message.Message{Type: message.TypeRecall, ID: id})
	assert.Equal(t, message.TypeOK, resp.Type)
	require.Len(t, backend.wroteImages(), 1)
	assert.Equal(t, data, backend.wroteImages()[0])
}

func TestRecallUnknownID(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	resp := request(t, dial(t, svc), &message.Message{Type: message.TypeRecall, ID: "missing"})

	assert.Equal(t, message.TypeError, resp.Type)
	assert.Contains(t, resp.Error, "missing")
}

func TestRecallImageWithMissingBlobDegrades(t *testing.T) {
	svc, st, _, res := newTestService(t)
	st.InsertImage(testPNG(t, 4, 4), 4, 4)
	head := st.Summaries()[0]

	ent, ok := st.Get(head.ID)
	require.True(t, ok)
	require.NoError(t, os.Remove(res.Path(ent.ImageRef)))

	resp := request(t, dial(t, svc), &message.Message{Type: message.TypeRecall, ID: head.ID})
	assert.Equal(t, message.TypeError, resp.Type)
}

func TestRecallClipboardWriteFailure(t *testing.T) {
	svc, st, backend, _ := newTestService(t)
	st.InsertText("only")
	st.InsertText("head")
	only := st.Summaries()[1]
	backend.failWrites = true

	resp := request(t, dial(t, svc), &message.Message{Type: message.TypeRecall, ID: only.ID})

	assert.Equal(t, message.TypeError, resp.Type)
	assert.Equal(t, "head", st.Summaries()[0].Text, "failed recall must not reorder")
}

func TestRemoveRequest(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	st.InsertText("doomed")
	id := st.Summaries()[0].ID
	wc := dial(t, svc)

	resp := request(t, wc, &message.Message{Type: message.TypeRemove, ID: id})
	assert.Equal(t, message.TypeOK, resp.Type)
	assert.Equal(t, 0, st.Len())

	resp = request(t, wc, &message.Message{Type: message.TypeRemove, ID: id})
	assert.Equal(t, message.TypeError, resp.Type)
}

func TestClearRequest(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	st.InsertText("a")
	st.InsertText("b")

	resp := request(t, dial(t, svc), &message.Message{Type: message.TypeClear})

	assert.Equal(t, message.TypeOK, resp.Type)
	assert.Equal(t, 0, st.Len())
}

func TestLimitClampsAndPersists(t *testing.T) {
	var saved []int
	svc, st, _, _ := newTestService(t, WithSaveLimit(func(n int) { saved = append(saved, n) }))
	for _, s := range []string{"a", "b", "c", "d"} {
		st.InsertText(s)
	}
	wc := dial(t, svc)

	resp := request(t, wc, &message.Message{Type: message.TypeLimit, Limit: 2})
	assert.Equal(t, message.TypeOK, resp.Type)
	assert.Equal(t, 2, resp.Capacity)
	assert.Equal(t, 2, st.Len())

	resp = request(t, wc, &message.Message{Type: message.TypeLimit, Limit: 0})
	assert.Equal(t, store.MinCapacity, resp.Capacity)

	assert.Equal(t, []int{2, store.MinCapacity}, saved)
}

func TestStatsRequest(t *testing.T) {
	svc, st, backend, res := newTestService(t)
	svc.version = "1.2.3"
	svc.socket = "/tmp/test.sock"
	svc.governor = govern.New(st, res)
	svc.detector = watch.New(backend, st)

	st.InsertText("one")
	st.InsertImage(testPNG(t, 4, 4), 4, 4)
	st.InsertText("one") // duplicate

	resp := request(t, dial(t, svc), &message.Message{Type: message.TypeStats})

	require.Equal(t, message.TypeStatsResponse, resp.Type)
	require.NotNil(t, resp.Stats)
	s := resp.Stats
	assert.Equal(t, "1.2.3", s.Version)
	assert.Equal(t, "test", s.Backend)
	assert.Equal(t, "/tmp/test.sock", s.Socket)
	assert.Equal(t, 2, s.Entries)
	assert.Equal(t, 5, s.Capacity)
	assert.Equal(t, uint64(3), s.Inserts)
	assert.Equal(t, uint64(1), s.Duplicates)
	assert.Equal(t, 2, s.BlobFiles)
	assert.Positive(t, s.BlobBytes)
	assert.Equal(t, string(govern.StateIdle), s.GovernorState)
	assert.Equal(t, uint64(0), s.Polls)
	assert.Equal(t, watch.DefaultBaseInterval, s.PollInterval)
}

func TestWatchStreamsUpdates(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	st.InsertText("preexisting")
	wc := dial(t, svc)

	require.NoError(t, wc.WriteMsg(&message.Message{Type: message.TypeWatch}))

	initial, err := wc.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, message.TypeUpdate, initial.Type)
	require.Len(t, initial.Entries, 1)
	assert.Equal(t, "preexisting", initial.Entries[0].Text)

	st.InsertText("fresh")
	update, err := wc.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, message.TypeUpdate, update.Type)
	require.Len(t, update.Entries, 2)
	assert.Equal(t, "fresh", update.Entries[0].Text)

	st.Remove(update.Entries[0].ID)
	update, err = wc.ReadMsg()
	require.NoError(t, err)
	require.Len(t, update.Entries, 1)
	assert.Equal(t, "preexisting", update.Entries[0].Text)
}

func TestWatcherDisconnectUnregisters(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	wc := dial(t, svc)

	require.NoError(t, wc.WriteMsg(&message.Message{Type: message.TypeWatch}))
	_, err := wc.ReadMsg()
	require.NoError(t, err)

	require.NoError(t, wc.Close())
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.watchers) == 0
	}, time.Second, 5*time.Millisecond)

	// Mutating after the watcher is gone must not panic or block.
	st.InsertText("after disconnect")
}

func TestUnknownTypeLeavesConnectionUsable(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	st.InsertText("still here")
	wc := dial(t, svc)

	require.NoError(t, wc.WriteMsg(&message.Message{Type: "BOGUS"}))

	resp := request(t, wc, &message.Message{Type: message.TypeHistory})
	assert.Equal(t, message.TypeHistoryResponse, resp.Type)
	require.Len(t, resp.Entries, 1)
}

func TestServeOverUnixSocket(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	st.InsertText("over the socket")

	path := filepath.Join(t.TempDir(), "vestige.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		svc.Serve(ln)
		close(done)
	}()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	resp := request(t, wire.New(conn), &message.Message{Type: message.TypeHistory})
	assert.Equal(t, message.TypeHistoryResponse, resp.Type)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "over the socket", resp.Entries[0].Text)

	require.NoError(t, ln.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after listener close")
	}
}
