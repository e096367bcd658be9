// Package service implements the daemon side of the vestige IPC protocol.
//
// Each accepted connection gets a read loop that dispatches requests against
// the history, and a writer goroutine that is the only place the connection
// is written to. Connections that subscribe with WATCH additionally receive
// an UPDATE push after every committed history mutation.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/vestige/internal/clip"
	"go.klb.dev/vestige/internal/entry"
	"go.klb.dev/vestige/internal/govern"
	"go.klb.dev/vestige/internal/message"
	"go.klb.dev/vestige/internal/resource"
	"go.klb.dev/vestige/internal/store"
	"go.klb.dev/vestige/internal/watch"
	"go.klb.dev/vestige/internal/wire"
)

// sendBuffer bounds the per-connection outbound queue. Sends beyond it are
// dropped rather than ever blocking a history mutation.
const sendBuffer = 64

// client is one accepted connection. sendCh is closed exactly once, under
// Service.mu, after the read loop returns.
type client struct {
	id       string
	wc       *wire.Conn
	sendCh   chan *message.Message
	watching bool
}

func (c *client) send(msg *message.Message) {
	select {
	case c.sendCh <- msg:
	default:
		slog.Warn("send channel full, dropping", "client", c.id)
	}
}

// Service serves the IPC protocol against the history.
type Service struct {
	store    *store.Store
	backend  clip.Backend
	res      *resource.Manager
	governor *govern.Governor
	detector *watch.Detector

	version   string
	socket    string
	saveLimit func(int)
	startedAt time.Time

	clientSeq atomic.Uint64

	mu       sync.Mutex
	watchers map[string]*client
}

// Option adjusts a Service at construction.
type Option func(*Service)

// WithVersion sets the version string reported by STATS.
func WithVersion(v string) Option {
	return func(s *Service) { s.version = v }
}

// WithSocketPath sets the socket path reported by STATS.
func WithSocketPath(path string) Option {
	return func(s *Service) { s.socket = path }
}

// WithGovernor wires the memory governor into STATS.
func WithGovernor(g *govern.Governor) Option {
	return func(s *Service) { s.governor = g }
}

// WithDetector wires the clipboard detector in, for STATS and so recalls can
// announce their own clipboard writes.
func WithDetector(d *watch.Detector) Option {
	return func(s *Service) { s.detector = d }
}

// WithSaveLimit registers a hook invoked with the effective capacity after
// every LIMIT request, typically to persist it.
func WithSaveLimit(fn func(capacity int)) Option {
	return func(s *Service) { s.saveLimit = fn }
}

// New wires a service over the history. The governor, detector, and save
// hook are optional; STATS fields degrade to zeros when absent.
func New(st *store.Store, backend clip.Backend, res *resource.Manager, opts ...Option) *Service {
	s := &Service{
		store:     st,
		backend:   backend,
		res:       res,
		version:   "dev",
		startedAt: time.Now(),
		watchers:  make(map[string]*client),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Serve accepts connections until ln is closed.
func (s *Service) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Error("ipc accept failed", "err", err)
			}
			return
		}
		go s.handle(conn)
	}
}

// Push implements store.Sink: every committed mutation fans out to WATCH
// subscribers as an UPDATE. Sends never block, so a slow watcher loses
// intermediate snapshots, not its connection.
func (s *Service) Push(snapshot []entry.Summary) {
	msg := &message.Message{
		Type:     message.TypeUpdate,
		Entries:  snapshot,
		Capacity: s.store.Capacity(),
	}
	s.mu.Lock()
	for _, c := range s.watchers {
		c.send(msg)
	}
	s.mu.Unlock()
}

func (s *Service) handle(conn net.Conn) {
	defer conn.Close()

	c := &client{
		id:     fmt.Sprintf("client-%d", s.clientSeq.Add(1)),
		wc:     wire.New(conn),
		sendCh: make(chan *message.Message, sendBuffer),
	}
	log := slog.With("client", c.id)
	defer s.drop(c)

	// Writer
	go func() {
		for msg := range c.sendCh {
			if err := c.wc.WriteMsg(msg); err != nil {
				log.Error("write failed", "err", err)
				conn.Close()
				return
			}
		}
	}()

	// Reader
	for {
		msg, err := c.wc.ReadMsg()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("connection closed", "err", err)
			}
			return
		}
		s.dispatch(c, msg, log)
	}
}

// drop unregisters the client and closes its send channel. Holding mu here
// and in Push keeps the close ordered against fan-out sends.
func (s *Service) drop(c *client) {
	s.mu.Lock()
	delete(s.watchers, c.id)
	close(c.sendCh)
	s.mu.Unlock()
}

func (s *Service) dispatch(c *client, msg *message.Message, log *slog.Logger) {
	switch msg.Type {
	case message.TypeHistory:
		c.send(&message.Message{
			Type:     message.TypeHistoryResponse,
			Entries:  s.store.Summaries(),
			Capacity: s.store.Capacity(),
		})

	case message.TypeRecall:
		c.send(s.recall(msg, log))

	case message.TypeRemove:
		if s.store.Remove(msg.ID) {
			log.Debug("entry removed", "id", msg.ID)
			c.send(message.OK())
		} else {
			c.send(message.Errorf("no entry with id %q", msg.ID))
		}

	case message.TypeClear:
		s.store.Clear()
		log.Debug("history cleared")
		c.send(message.OK())

	case message.TypeLimit:
		s.store.SetCapacity(msg.Limit)
		n := s.store.Capacity()
		if s.saveLimit != nil {
			s.saveLimit(n)
		}
		log.Info("capacity changed", "capacity", n)
		c.send(&message.Message{Type: message.TypeOK, Capacity: n})

	case message.TypeStats:
		c.send(s.statsResponse())

	case message.TypeWatch:
		s.subscribe(c, log)

	default:
		log.Warn("unexpected message type", "type", msg.Type)
	}
}

// recall places the entry's content back on the system clipboard and moves
// it to the head, or returns it as a PAYLOAD when msg.Print is set. The
// clipboard write is announced to the detector first so the next poll does
// not capture it as a fresh user copy.
func (s *Service) recall(msg *message.Message, log *slog.Logger) *message.Message {
	ent, ok := s.store.Get(msg.ID)
	if !ok {
		return message.Errorf("no entry with id %q", msg.ID)
	}
	if msg.Print {
		return s.payloadResponse(ent)
	}

	switch ent.Kind {
	case entry.KindImage:
		data, err := s.res.ReadImage(ent.ImageRef)
		if err != nil {
			log.Warn("recall image read failed", "id", ent.ID, "err", err)
			return message.Errorf("image data unavailable: %v", err)
		}
		if s.detector != nil {
			s.detector.NoteImage(data, ent.Width, ent.Height)
		}
		if err := s.backend.WriteImage(data); err != nil {
			return message.Errorf("clipboard write failed: %v", err)
		}
	default:
		text := []byte(ent.Text)
		if s.detector != nil {
			s.detector.NoteText(text)
		}
		if err := s.backend.WriteText(text); err != nil {
			return message.Errorf("clipboard write failed: %v", err)
		}
	}

	s.store.Touch(ent.ID)
	log.Debug("entry recalled", "id", ent.ID, "kind", ent.Kind)
	return message.OK()
}

func (s *Service) payloadResponse(ent entry.Entry) *message.Message {
	p := &message.Payload{
		ID:        ent.ID,
		Kind:      ent.Kind,
		CreatedAt: ent.CreatedAt,
	}
	switch ent.Kind {
	case entry.KindImage:
		data, err := s.res.ReadImage(ent.ImageRef)
		if err != nil {
			return message.Errorf("image data unavailable: %v", err)
		}
		p.Data = data
		p.Width = ent.Width
		p.Height = ent.Height
	default:
		p.Text = ent.Text
		p.Truncated = ent.Truncated
		p.OriginalSize = ent.OriginalSize
	}
	return &message.Message{Type: message.TypePayload, Payload: p}
}

// subscribe registers c for UPDATE pushes and immediately queues a catch-up
// snapshot. Subscribing twice is a no-op.
func (s *Service) subscribe(c *client, log *slog.Logger) {
	s.mu.Lock()
	already := c.watching
	if !already {
		c.watching = true
		s.watchers[c.id] = c
	}
	s.mu.Unlock()
	if already {
		return
	}

	log.Info("watch subscribed")
	c.send(&message.Message{
		Type:     message.TypeUpdate,
		Entries:  s.store.Summaries(),
		Capacity: s.store.Capacity(),
	})
}

func (s *Service) statsResponse() *message.Message {
	st := s.store.Stats()
	files, bytes := s.res.Usage()
	ms := &message.Stats{
		Version:    s.version,
		Backend:    s.backend.Name(),
		Socket:     s.socket,
		StartedAt:  s.startedAt,
		Entries:    st.Entries,
		Capacity:   st.Capacity,
		Inserts:    st.Inserts,
		Duplicates: st.Duplicates,
		Evictions:  st.Evictions,
		Rejected:   st.Rejected,
		TextBytes:  st.TextBytes,
		BlobFiles:  files,
		BlobBytes:  bytes,
	}
	if s.governor != nil {
		gs := s.governor.Stats()
		ms.GovernorState = string(gs.State)
		ms.HeapBytes = gs.HeapBytes
		ms.Cleans = gs.Cleans
		ms.AggressiveCleans = gs.AggressiveCleans
		ms.TrimmedEntries = gs.TrimmedEntries
		ms.SweptBlobs = gs.SweptBlobs
	}
	if s.detector != nil {
		ds := s.detector.Stats()
		ms.Polls = ds.Polls
		ms.Captures = ds.Captures
		ms.ReadErrors = ds.ReadErrors
		ms.PollInterval = ds.Interval
	}
	return &message.Message{Type: message.TypeStatsResponse, Stats: ms}
}
