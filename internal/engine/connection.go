package engine

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/edwingeng/deque/v2"
	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
	"github.com/jsp-lqk/metapipe-replay/internal/transport"
)

const readChunk = 16 * 1024

// Marker stands for one request awaiting its response.
type Marker struct {
	Kind protocol.Kind
	Key  string
	Sent time.Time
}

// Connection owns one transport and the FIFO of its in-flight requests.
// Markers are pushed at the front and popped at the back, so Back is always
// the oldest request and the one the next response belongs to.
type Connection struct {
	id        int
	shard     int
	transport transport.Transport
	writable  bool
	rbuf      []byte
	wbuf      []byte
	inFlight  *deque.Deque[Marker]
}

func newConnection(id, shard int, t transport.Transport) *Connection {
	return &Connection{
		id:        id,
		shard:     shard,
		transport: t,
		writable:  true,
		inFlight:  deque.NewDeque[Marker](),
	}
}

func (c *Connection) InFlight() int {
	return c.inFlight.Len()
}

// fill reads until the transport reports would-block. Data read before a
// failure stays buffered so it can still be decoded.
func (c *Connection) fill() error {
	for {
		if cap(c.rbuf)-len(c.rbuf) < readChunk/4 {
			c.rbuf = slices.Grow(c.rbuf, readChunk)
		}
		n, err := c.transport.Read(c.rbuf[len(c.rbuf):cap(c.rbuf)])
		c.rbuf = c.rbuf[:len(c.rbuf)+n]
		switch {
		case err == nil:
			continue
		case errors.Is(err, transport.ErrWouldBlock):
			return nil
		case errors.Is(err, io.EOF):
			return fmt.Errorf("connection %d: %w", c.id, ErrConnectionClosed)
		default:
			return fmt.Errorf("read from connection %d: %w", c.id, err)
		}
	}
}

// write sends p, keeping whatever the kernel did not accept for the next
// writable edge. It returns the number of bytes accepted now.
func (c *Connection) write(p []byte) (int, error) {
	n, err := c.transport.Write(p)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, transport.ErrWouldBlock):
		c.writable = false
		if n > 0 {
			c.wbuf = append(c.wbuf[:0], p[n:]...)
		}
		return n, nil
	default:
		return n, fmt.Errorf("write to connection %d: %w", c.id, err)
	}
}

// flush retries the tail of a partial write after a writable edge.
func (c *Connection) flush() error {
	if len(c.wbuf) == 0 {
		return nil
	}
	pending := c.wbuf
	c.wbuf = c.wbuf[:0]
	n, err := c.transport.Write(pending)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrWouldBlock):
		c.writable = false
		c.wbuf = append(c.wbuf, pending[n:]...)
		return nil
	default:
		return fmt.Errorf("write to connection %d: %w", c.id, err)
	}
}

// consume drops n decoded bytes from the front of the receive buffer.
func (c *Connection) consume(n int) {
	if n == 0 {
		return
	}
	rest := copy(c.rbuf, c.rbuf[n:])
	c.rbuf = c.rbuf[:rest]
}

func (c *Connection) ready(maxInFlight int) bool {
	return c.writable && len(c.wbuf) == 0 && c.inFlight.Len() < maxInFlight
}
