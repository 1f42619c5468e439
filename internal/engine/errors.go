package engine

import "errors"

var (
	// ErrConnectionClosed is fatal: the run is aborted without reconnecting.
	ErrConnectionClosed = errors.New("connection closed by server")
	ErrNoConnections    = errors.New("no connections")
	ErrShardMismatch    = errors.New("router and connection shards disagree")
)
