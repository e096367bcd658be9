//go:build !windows

package ipc

import (
	"net"
	"os"
	"path/filepath"
)

func socketPath() string {
	if s := os.Getenv("VESTIGE_SOCKET"); s != "" {
		return s
	}
	// Linux: prefer XDG_RUNTIME_DIR
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "vestige.sock")
	}
	// macOS / fallback
	return filepath.Join(os.TempDir(), "vestige.sock")
}

func listenIPC(path string) (net.Listener, error) {
	// Remove stale socket from a previous (crashed) run.
	_ = os.Remove(path)
	return net.Listen("unix", path)
}

func dialIPC(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}
