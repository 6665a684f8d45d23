// Package ipc provides helpers for the local Unix-socket control channel
// used by the clipd CLI sub-commands (copy/paste/show/...) to talk to the
// running daemon.
package ipc

import (
	"net"
	"os"
	"path/filepath"
)

// SocketPath returns the control socket path.
//
//   - $CLIPD_SOCKET when set
//   - $XDG_RUNTIME_DIR/clipd.sock when available
//   - $TMPDIR/clipd.sock otherwise
func SocketPath() string {
	if s := os.Getenv("CLIPD_SOCKET"); s != "" {
		return s
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "clipd.sock")
	}
	return filepath.Join(os.TempDir(), "clipd.sock")
}

// IsRunning reports whether a daemon appears to be listening on the socket.
// It does a cheap dial-and-close; no data is exchanged.
func IsRunning(path string) bool {
	c, err := net.Dial("unix", path)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates a net.Listener on the socket path, removing any stale
// socket file from a previous (crashed) run first.
func Listen(path string) (net.Listener, error) {
	_ = os.Remove(path)
	return net.Listen("unix", path)
}

// Dial connects to the daemon's control socket.
func Dial(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}
