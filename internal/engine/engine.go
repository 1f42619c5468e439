// Package engine drives pipelined requests over a fixed set of non-blocking
// connections from a single event loop.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jsp-lqk/metapipe-replay/internal/poller"
	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
	"github.com/jsp-lqk/metapipe-replay/internal/stats"
	"github.com/jsp-lqk/metapipe-replay/internal/transport"
	"github.com/jsp-lqk/metapipe-replay/internal/workload"
	"github.com/jsp-lqk/metapipe-replay/router"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxInFlight  = 64
	DefaultDrainTimeout = 10 * time.Second
	drainPoll           = time.Second
)

// Observer is notified of every send and completion. Calls happen on the
// event loop goroutine and must not block.
type Observer interface {
	Sent(kind protocol.Kind)
	Completed(kind protocol.Kind, outcome protocol.Outcome, latency time.Duration)
}

type nopObserver struct{}

func (nopObserver) Sent(protocol.Kind)                                       {}
func (nopObserver) Completed(protocol.Kind, protocol.Outcome, time.Duration) {}

type Config struct {
	// MaxInFlight caps outstanding requests per connection.
	MaxInFlight int
	// MaxInFlightTotal caps outstanding requests across all connections;
	// zero leaves only the per-connection cap.
	MaxInFlightTotal int
	// Rate paces sends in requests per second; zero disables pacing.
	Rate float64
	// Delay is the pause enforced after each send, already scaled.
	Delay        time.Duration
	DrainTimeout time.Duration
	Router       router.Router
	Observer     Observer
	Logger       log.Logger
	// Hazards are the kinds whose outstanding requests block every later
	// request on the same key. Nil means DefaultHazards; an empty non-nil
	// slice disables dependency tracking.
	Hazards []protocol.Kind
	// OnExhausted runs once when the workload ends or the run is cancelled.
	OnExhausted func()
}

// DefaultHazards holds the insertion kind only: a get racing an add on
// another connection would otherwise observe the key before it exists.
var DefaultHazards = []protocol.Kind{protocol.ADD}

// Result summarises one run of the event loop.
type Result struct {
	Sent          int64
	Completed     int64
	Lost          int
	Elapsed       time.Duration
	Cancelled     bool
	DrainTimedOut bool
}

type Engine struct {
	conf      Config
	conns     []*Connection
	shards    [][]*Connection
	rr        []int
	byFd      map[int]*Connection
	source    workload.Source
	deps      *DependencyTable
	hazards   map[protocol.Kind]bool
	stats     *stats.Collector
	logger    log.Logger
	limiter   *rate.Limiter
	scratch   []byte
	inFlight  int
	exhausted bool
	cancelled bool

	stalled   bool
	stalledOn string
	notBefore time.Time
	wakeAt    time.Time

	sent      atomic.Int64
	completed atomic.Int64
}

// New builds an engine over shards of transports; shards[i] holds the
// connections to the server the router numbers i.
func New(conf Config, shards [][]transport.Transport, src workload.Source, collector *stats.Collector) (*Engine, error) {
	if conf.MaxInFlight <= 0 {
		conf.MaxInFlight = DefaultMaxInFlight
	}
	if conf.DrainTimeout <= 0 {
		conf.DrainTimeout = DefaultDrainTimeout
	}
	if len(shards) == 0 {
		return nil, ErrNoConnections
	}
	if conf.Router == nil {
		conf.Router = router.New(len(shards))
	}
	if conf.Observer == nil {
		conf.Observer = nopObserver{}
	}
	if conf.Logger == nil {
		conf.Logger = log.NewNopLogger()
	}
	if conf.Router.Size() != len(shards) {
		return nil, fmt.Errorf("%w: router has %d, got %d", ErrShardMismatch, conf.Router.Size(), len(shards))
	}

	e := &Engine{
		conf:   conf,
		shards: make([][]*Connection, len(shards)),
		rr:     make([]int, len(shards)),
		byFd:   make(map[int]*Connection),
		source: src,
		deps:   NewDependencyTable(),
		stats:  collector,
		logger: conf.Logger,
	}
	for shard, ts := range shards {
		if len(ts) == 0 {
			return nil, fmt.Errorf("%w for shard %d", ErrNoConnections, shard)
		}
		for _, t := range ts {
			c := newConnection(len(e.conns), shard, t)
			e.conns = append(e.conns, c)
			e.shards[shard] = append(e.shards[shard], c)
		}
	}
	hazards := conf.Hazards
	if hazards == nil {
		hazards = DefaultHazards
	}
	e.hazards = make(map[protocol.Kind]bool, len(hazards))
	for _, k := range hazards {
		e.hazards[k] = true
	}
	if conf.Rate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(conf.Rate), 1)
	}
	return e, nil
}

// Progress may be called from any goroutine.
func (e *Engine) Progress() (sent, completed int64) {
	return e.sent.Load(), e.completed.Load()
}

// Run drives the workload to completion, cancellation or a fatal transport
// error. After the workload ends, outstanding responses are awaited for at
// most DrainTimeout; whatever is still missing is reported as lost. On a
// fatal error the partial result is returned together with the error.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	p, err := poller.New()
	if err != nil {
		return Result{}, fmt.Errorf("create poller: %w", err)
	}
	defer p.Close()

	for _, c := range e.conns {
		fd := c.transport.Fd()
		if err := p.Add(fd); err != nil {
			return Result{}, err
		}
		e.byFd[fd] = c
	}
	stop := context.AfterFunc(ctx, func() {
		_ = p.Wake()
	})
	defer stop()

	start := time.Now()
	err = e.loop(ctx, p)
	res := Result{
		Sent:      e.sent.Load(),
		Completed: e.completed.Load(),
		Lost:      e.inFlight,
		Elapsed:   time.Since(start),
		Cancelled: e.cancelled,
	}
	if err != nil {
		return res, err
	}
	if res.Lost > 0 {
		res.DrainTimedOut = true
		level.Warn(e.logger).Log("msg", "timed out waiting for final responses", "lost", res.Lost)
	}
	return res, nil
}

func (e *Engine) loop(ctx context.Context, p *poller.Poller) error {
	var drainDeadline time.Time
	for {
		if !e.exhausted && ctx.Err() != nil {
			e.cancelled = true
			level.Info(e.logger).Log("msg", "run cancelled, draining", "in_flight", e.inFlight)
			e.markExhausted()
		}
		now := time.Now()
		if err := e.schedule(now); err != nil {
			return err
		}

		timeout := time.Duration(-1)
		if e.exhausted {
			if e.inFlight == 0 {
				return nil
			}
			if drainDeadline.IsZero() {
				drainDeadline = now.Add(e.conf.DrainTimeout)
				level.Info(e.logger).Log("msg", "workload done, waiting for final responses", "in_flight", e.inFlight)
			}
			remaining := drainDeadline.Sub(now)
			if remaining <= 0 {
				return nil
			}
			timeout = min(remaining, drainPoll)
		} else if !e.wakeAt.IsZero() {
			timeout = max(e.wakeAt.Sub(now), 0)
		}

		events, err := p.Wait(timeout)
		if err != nil {
			return err
		}
		for _, ev := range events {
			c, ok := e.byFd[ev.Fd]
			if !ok {
				continue
			}
			if ev.Writable {
				c.writable = true
				if err := c.flush(); err != nil {
					return err
				}
			}
			if ev.Readable || ev.Hangup || ev.Err {
				if err := e.onReadable(c); err != nil {
					return err
				}
			}
		}
	}
}

func (e *Engine) markExhausted() {
	if e.exhausted {
		return
	}
	e.exhausted = true
	e.stalled = false
	e.wakeAt = time.Time{}
	if e.conf.OnExhausted != nil {
		e.conf.OnExhausted()
	}
}

// onReadable drains the socket and then decodes every complete response.
func (e *Engine) onReadable(c *Connection) error {
	err := c.fill()
	e.decode(c)
	return err
}

func (e *Engine) decode(c *Connection) {
	off := 0
	for c.inFlight.Len() > 0 {
		m, _ := c.inFlight.Back()
		resp, ok := protocol.Parse(c.rbuf[off:], m.Kind)
		if !ok {
			break
		}
		off += resp.Consumed
		c.inFlight.PopBack()
		e.finish(c, m, resp)
	}
	if c.inFlight.Len() == 0 && off < len(c.rbuf) {
		level.Warn(e.logger).Log("msg", "discarding unsolicited response bytes", "conn", c.id, "bytes", len(c.rbuf)-off)
		off = len(c.rbuf)
	}
	c.consume(off)
}

func (e *Engine) finish(c *Connection, m Marker, resp protocol.Response) {
	latency := time.Since(m.Sent)
	e.inFlight--
	e.completed.Add(1)
	if e.hazards[m.Kind] {
		e.deps.Release(m.Key)
	}
	if resp.Outcome == protocol.Malformed {
		level.Warn(e.logger).Log("msg", "malformed response", "conn", c.id, "kind", m.Kind, "key", m.Key)
	}
	e.stats.Record(m.Kind, resp.Outcome, latency)
	e.conf.Observer.Completed(m.Kind, resp.Outcome, latency)
}
