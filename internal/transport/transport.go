// Package transport wraps a raw non-blocking stream socket so that it can be
// driven by an edge-triggered poller instead of the Go runtime's netpoller.
package transport

import (
	"errors"
	"strings"
)

var (
	// ErrWouldBlock is returned when the socket cannot make progress without
	// blocking. For writes, the returned count may still be non-zero.
	ErrWouldBlock = errors.New("operation would block")
	ErrClosed     = errors.New("socket closed")
)

// Transport is the handle a connection sends and receives on.
type Transport interface {
	Fd() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// SplitTarget turns "unix:/path" into ("unix", "/path") and anything else
// into ("tcp", target).
func SplitTarget(target string) (network, address string) {
	if path, ok := strings.CutPrefix(target, "unix:"); ok {
		return "unix", path
	}
	return "tcp", target
}
