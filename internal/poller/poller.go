// Package poller multiplexes readiness of many sockets with edge-triggered
// notifications. A readable event only says that new data arrived; callers
// must keep reading until the socket reports that it would block.
package poller

// Event is the readiness of one registered descriptor.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	Hangup   bool
	Err      bool
}
