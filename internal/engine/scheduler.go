package engine

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-kit/log/level"
	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
	"golang.org/x/time/rate"
)

// schedule sends as many commands as the caps, the dependency table, pacing
// and the transports allow. It never blocks.
func (e *Engine) schedule(now time.Time) error {
	e.wakeAt = time.Time{}
	for !e.exhausted {
		if e.stalled {
			if e.deps.Contains(e.stalledOn) {
				return nil
			}
			e.stalled = false
			e.stalledOn = ""
		}
		if e.conf.MaxInFlightTotal > 0 && e.inFlight >= e.conf.MaxInFlightTotal {
			return nil
		}
		if !e.anyReady() {
			return nil
		}
		reservation, wait := e.pace(now)
		if wait > 0 {
			e.wakeAt = now.Add(wait)
			return nil
		}

		cmd, err := e.source.Next()
		if errors.Is(err, io.EOF) {
			e.markExhausted()
			return nil
		}
		if err != nil {
			return fmt.Errorf("workload: %w", err)
		}

		if e.deps.Contains(cmd.Key) {
			// Ordering must hold across connections too, so everything waits.
			level.Debug(e.logger).Log("msg", "stalled on outstanding key", "key", cmd.Key)
			e.stalled = true
			e.stalledOn = cmd.Key
			return e.giveBack(reservation, now)
		}

		c := e.pick(cmd.Key)
		if c == nil {
			return e.giveBack(reservation, now)
		}
		sent, err := e.send(c, cmd)
		if err != nil {
			return err
		}
		if !sent {
			if err := e.giveBack(reservation, now); err != nil {
				return err
			}
			continue
		}
		if e.conf.Delay > 0 {
			e.notBefore = now.Add(e.conf.Delay)
		}
	}
	return nil
}

// send writes cmd on c. It reports false if the transport accepted nothing,
// in which case the command must be returned to the source.
func (e *Engine) send(c *Connection, cmd protocol.Command) (bool, error) {
	e.scratch = protocol.AppendRequest(e.scratch[:0], cmd)
	sentAt := time.Now()
	n, err := c.write(e.scratch)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if e.hazards[cmd.Kind] {
		e.deps.Add(cmd.Key)
	}
	c.inFlight.PushFront(Marker{Kind: cmd.Kind, Key: cmd.Key, Sent: sentAt})
	e.inFlight++
	e.sent.Add(1)
	e.conf.Observer.Sent(cmd.Kind)
	return true, nil
}

func (e *Engine) giveBack(r *rate.Reservation, now time.Time) error {
	if r != nil {
		r.CancelAt(now)
	}
	if err := e.source.Rollback(); err != nil {
		return fmt.Errorf("workload: %w", err)
	}
	return nil
}

// pace returns the reservation backing the next send, or how long to wait
// before trying again.
func (e *Engine) pace(now time.Time) (*rate.Reservation, time.Duration) {
	if wait := e.notBefore.Sub(now); wait > 0 {
		return nil, wait
	}
	if e.limiter == nil {
		return nil, 0
	}
	r := e.limiter.ReserveN(now, 1)
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return nil, wait
	}
	return r, 0
}

func (e *Engine) anyReady() bool {
	for _, c := range e.conns {
		if c.ready(e.conf.MaxInFlight) {
			return true
		}
	}
	return false
}

// pick chooses the next ready connection of the key's shard, round-robin.
func (e *Engine) pick(key string) *Connection {
	shard := e.conf.Router.Route(key)
	conns := e.shards[shard]
	for i := range conns {
		idx := (e.rr[shard] + i) % len(conns)
		if conns[idx].ready(e.conf.MaxInFlight) {
			e.rr[shard] = (idx + 1) % len(conns)
			return conns[idx]
		}
	}
	return nil
}
