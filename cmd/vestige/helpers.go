package main

import (
	"errors"
	"fmt"

	"go.klb.dev/vestige/internal/ipc"
	"go.klb.dev/vestige/internal/message"
	"go.klb.dev/vestige/internal/wire"
)

// requestDaemon sends one request over the IPC socket and returns the
// daemon's reply. ERROR replies come back as plain errors.
func requestDaemon(msg *message.Message) (*message.Message, error) {
	conn, err := ipc.Dial()
	if err != nil {
		return nil, fmt.Errorf("no daemon reachable at %s (start one with \"vestige daemon\"): %w",
			ipc.SocketPath(), err)
	}
	defer conn.Close()

	wc := wire.New(conn)
	if err := wc.WriteMsg(msg); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	resp, err := wc.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Type == message.TypeError {
		return nil, errors.New(resp.Error)
	}
	return resp, nil
}
