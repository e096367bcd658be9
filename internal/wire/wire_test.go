package wire

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/vestige/internal/entry"
	"go.klb.dev/vestige/internal/message"
)

func pipePair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return New(a), New(b)
}

// net.Pipe is unbuffered, so writes block until the far side reads.
func send(t *testing.T, c *Conn, msg *message.Message) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.WriteMsg(msg) }()
	t.Cleanup(func() {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("write never completed")
		}
	})
}

func TestRoundTripRequest(t *testing.T) {
	client, server := pipePair(t)

	send(t, client, &message.Message{Type: message.TypeRecall, ID: "abc123", Print: true})

	got, err := server.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, message.TypeRecall, got.Type)
	assert.Equal(t, "abc123", got.ID)
	assert.True(t, got.Print)
}

func TestRoundTripUpdateEnvelope(t *testing.T) {
	client, server := pipePair(t)

	now := time.Now().UTC().Truncate(time.Second)
	send(t, server, &message.Message{
		Type:     message.TypeUpdate,
		Capacity: 20,
		Entries: []entry.Summary{
			{ID: "id-1", Kind: entry.KindText, CreatedAt: now, Text: "hello", Size: 5},
			{ID: "id-2", Kind: entry.KindImage, CreatedAt: now, Size: 1024, ThumbRef: "t.png", Width: 64, Height: 48},
		},
	})

	got, err := client.ReadMsg()
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, 20, got.Capacity)
	assert.Equal(t, "hello", got.Entries[0].Text)
	assert.Equal(t, entry.KindImage, got.Entries[1].Kind)
	assert.Equal(t, now, got.Entries[1].CreatedAt)
	assert.Equal(t, 64, got.Entries[1].Width)
}

func TestRoundTripBinaryPayload(t *testing.T) {
	client, server := pipePair(t)

	// Raw bytes including newline and NUL must survive the line framing.
	data := []byte{0x89, 'P', 'N', 'G', '\n', 0x00, 0xff}
	send(t, server, &message.Message{
		Type:    message.TypePayload,
		Payload: &message.Payload{ID: "img-1", Kind: entry.KindImage, Data: data, Width: 2, Height: 2},
	})

	got, err := client.ReadMsg()
	require.NoError(t, err)
	require.NotNil(t, got.Payload)
	assert.Equal(t, data, got.Payload.Data)
	assert.Equal(t, 2, got.Payload.Width)
}

func TestSequentialMessages(t *testing.T) {
	client, server := pipePair(t)

	go func() {
		for _, typ := range []message.Type{message.TypeHistory, message.TypeClear, message.TypeStats} {
			_ = client.WriteMsg(&message.Message{Type: typ})
		}
	}()

	for _, want := range []message.Type{message.TypeHistory, message.TypeClear, message.TypeStats} {
		got, err := server.ReadMsg()
		require.NoError(t, err)
		assert.Equal(t, want, got.Type)
	}
}

func TestGarbageLineFailsDecode(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	go func() {
		_, _ = a.Write([]byte("not json at all\n"))
	}()

	_, err := New(b).ReadMsg()
	assert.Error(t, err)
}

func TestReadAfterCloseFails(t *testing.T) {
	a, b := net.Pipe()
	conn := New(b)
	require.NoError(t, a.Close())

	_, err := conn.ReadMsg()
	assert.Error(t, err)
}
