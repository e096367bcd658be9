// Package ipc provides helpers for the local IPC channel used by CLI
// sub-commands (history, recall, status, ...) to talk to a running vestige
// daemon.
//
// On Linux and macOS the channel is a Unix domain socket; on Windows it is a
// named pipe. The daemon listens; CLI sub-commands probe for it and report a
// clear error if it is absent.
package ipc

import (
	"net"
)

// SocketPath returns the platform-appropriate path for the IPC endpoint.
// $VESTIGE_SOCKET overrides it on every platform.
//
//   - Linux:   $XDG_RUNTIME_DIR/vestige.sock, else $TMPDIR/vestige.sock
//   - macOS:   $TMPDIR/vestige.sock
//   - Windows: \\.\pipe\vestige
func SocketPath() string {
	return socketPath()
}

// IsRunning reports whether a vestige daemon appears to be listening on the
// IPC endpoint. It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := dialIPC(SocketPath())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates and returns a net.Listener on the IPC endpoint, removing
// any stale socket file from a previous (crashed) run first.
func Listen() (net.Listener, error) {
	return listenIPC(SocketPath())
}

// Dial connects to the IPC endpoint.
func Dial() (net.Conn, error) {
	return dialIPC(SocketPath())
}
