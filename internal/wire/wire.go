// Package wire frames vestige IPC messages over a net.Conn.
//
// Every message is one line: <json>\n. Framing never looks inside the JSON,
// and the reader enforces a hard size cap so a rogue peer cannot balloon the
// daemon by streaming an endless line.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	"go.klb.dev/vestige/internal/message"
)

const (
	// MaxMessageSize caps a single inbound message at 64 MiB. Recall
	// payloads carry whole image blobs base64-encoded inside the JSON, so
	// the cap has to sit well above any plausible clipboard image.
	MaxMessageSize = 64 << 20

	writeTimeout = 5 * time.Second
)

// Conn wraps a net.Conn with newline-delimited JSON framing.
type Conn struct {
	conn net.Conn
	sc   *bufio.Scanner
}

// New wraps conn.
func New(conn net.Conn) *Conn {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64<<10), MaxMessageSize)
	return &Conn{conn: conn, sc: sc}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// WriteMsg serialises msg and writes it as one line. A write that cannot
// complete within a few seconds fails instead of wedging the caller behind a
// stuck peer.
func (c *Conn) WriteMsg(msg *message.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	if _, err := c.conn.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMsg reads the next line and deserialises it into a Message. A line
// beyond MaxMessageSize fails with bufio.ErrTooLong; a cleanly closed
// connection reads as io.EOF.
func (c *Conn) ReadMsg() (*message.Message, error) {
	if !c.sc.Scan() {
		if err := c.sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return message.Decode(c.sc.Bytes())
}
