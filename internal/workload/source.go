// Package workload produces the command stream replayed against the server.
package workload

import (
	"errors"

	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
)

var ErrRollback = errors.New("rollback without a preceding Next")

// Source yields commands until io.EOF. Rollback undoes the most recent Next,
// so the following Next returns the same command again. It may be called at
// most once per Next.
type Source interface {
	Next() (protocol.Command, error)
	Rollback() error
}

// rewind holds the last command handed out so it can be replayed once.
type rewind struct {
	last    protocol.Command
	hasLast bool
	replay  bool
}

func (r *rewind) pending() (protocol.Command, bool) {
	if !r.replay {
		return protocol.Command{}, false
	}
	r.replay = false
	return r.last, true
}

func (r *rewind) remember(c protocol.Command) protocol.Command {
	r.last = c
	r.hasLast = true
	return c
}

func (r *rewind) rollback() error {
	if !r.hasLast || r.replay {
		return ErrRollback
	}
	r.replay = true
	return nil
}

// forget is called at end of stream; nothing is left to roll back.
func (r *rewind) forget() {
	r.hasLast = false
}
