//go:build windows

package ipc

import (
	"net"
	"os"

	"github.com/Microsoft/go-winio"
)

const defaultPipe = `\\.\pipe\vestige`

func socketPath() string {
	if s := os.Getenv("VESTIGE_SOCKET"); s != "" {
		return s
	}
	return defaultPipe
}

func listenIPC(path string) (net.Listener, error) {
	return winio.ListenPipe(path, nil)
}

func dialIPC(path string) (net.Conn, error) {
	return winio.DialPipe(path, nil)
}
