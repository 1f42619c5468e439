package engine

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
	"github.com/jsp-lqk/metapipe-replay/internal/stats"
	"github.com/jsp-lqk/metapipe-replay/internal/transport"
	"github.com/jsp-lqk/metapipe-replay/internal/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport accepts up to budget bytes (unlimited when negative) and
// serves reads from in.
type fakeTransport struct {
	fd     int
	out    bytes.Buffer
	in     []byte
	budget int
	eof    bool
}

func newFake(fd int) *fakeTransport {
	return &fakeTransport{fd: fd, budget: -1}
}

func (f *fakeTransport) Fd() int { return f.fd }

func (f *fakeTransport) Read(p []byte) (int, error) {
	if len(f.in) == 0 {
		if f.eof {
			return 0, io.EOF
		}
		return 0, transport.ErrWouldBlock
	}
	n := copy(p, f.in)
	f.in = f.in[n:]
	return n, nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	if f.budget < 0 {
		return f.out.Write(p)
	}
	n := min(f.budget, len(p))
	f.out.Write(p[:n])
	f.budget -= n
	if n < len(p) {
		return n, transport.ErrWouldBlock
	}
	return n, nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) reply(s string) {
	f.in = append(f.in, s...)
}

var mutating = []protocol.Kind{protocol.ADD, protocol.SET, protocol.REPLACE, protocol.DELETE}

func trace(lines ...string) workload.Source {
	return workload.NewTraceSource(strings.NewReader(strings.Join(lines, "\n")+"\n"), log.NewNopLogger())
}

func newTestEngine(t *testing.T, conf Config, src workload.Source, fakes ...*fakeTransport) (*Engine, *stats.Collector) {
	t.Helper()
	ts := make([]transport.Transport, len(fakes))
	for i, f := range fakes {
		ts[i] = f
	}
	collector := stats.NewCollector(true)
	e, err := New(conf, [][]transport.Transport{ts}, src, collector)
	require.NoError(t, err)
	return e, collector
}

func TestDependencyHazardStallsEveryConnection(t *testing.T) {
	c0, c1 := newFake(3), newFake(4)
	e, collector := newTestEngine(t, Config{}, trace("add k 0 0 1", "x", "get k", "get other"), c0, c1)

	require.NoError(t, e.schedule(time.Now()))
	assert.Equal(t, "add k 0 0 1\r\nx\r\n", c0.out.String())
	assert.Empty(t, c1.out.String(), "no send may happen while k is outstanding")
	assert.True(t, e.deps.Contains("k"))
	assert.True(t, e.stalled)

	require.NoError(t, e.schedule(time.Now()))
	assert.Empty(t, c1.out.String())
	assert.Equal(t, int64(1), e.sent.Load())

	c0.reply("NOT_STORED\r\n")
	require.NoError(t, e.onReadable(e.conns[0]))
	assert.False(t, e.deps.Contains("k"), "rejection releases the key too")
	assert.Equal(t, int64(1), collector.Responses("NOT_STORED"))

	require.NoError(t, e.schedule(time.Now()))
	assert.Equal(t, "get k\r\n", c1.out.String())
	assert.Equal(t, "add k 0 0 1\r\nx\r\nget other\r\n", c0.out.String())
	assert.True(t, e.exhausted)
}

func TestGetDoesNotBlockLaterGets(t *testing.T) {
	c0 := newFake(3)
	e, _ := newTestEngine(t, Config{Hazards: mutating}, trace("get k", "get k", "delete k", "get k"), c0)

	require.NoError(t, e.schedule(time.Now()))
	assert.Equal(t, "get k\r\nget k\r\ndelete k\r\n", c0.out.String())
	assert.Equal(t, 3, e.inFlight)

	c0.reply("END\r\nEND\r\nDELETED\r\n")
	require.NoError(t, e.onReadable(e.conns[0]))
	require.NoError(t, e.schedule(time.Now()))
	assert.Equal(t, "get k\r\nget k\r\ndelete k\r\nget k\r\n", c0.out.String())
}

func TestDefaultHazardsAreInsertionsOnly(t *testing.T) {
	c0 := newFake(3)
	e, _ := newTestEngine(t, Config{}, trace("set k 0 0 1", "x", "replace k 0 0 1", "y", "get k", "add j 0 0 1", "z", "get j"), c0)

	require.NoError(t, e.schedule(time.Now()))
	assert.Equal(t, 4, e.inFlight, "set and replace do not block the key")
	assert.True(t, e.stalled)
	assert.Equal(t, "j", e.stalledOn)
	assert.Equal(t, 1, e.deps.Len())
}

func TestWriterFillsPipelineWithoutHazards(t *testing.T) {
	c0 := newFake(3)
	src := workload.NewFixedSource(protocol.REPLACE, "k", []byte("v"), 100)
	e, _ := newTestEngine(t, Config{MaxInFlight: 8, Hazards: []protocol.Kind{}}, src, c0)

	require.NoError(t, e.schedule(time.Now()))
	assert.Equal(t, 8, e.inFlight)
	assert.Equal(t, 8, e.conns[0].InFlight())
	assert.False(t, e.stalled)
	assert.Zero(t, e.deps.Len())
}

func TestWouldBlockRollsBackToAnotherConnection(t *testing.T) {
	c0, c1 := newFake(3), newFake(4)
	c0.budget = 0
	e, _ := newTestEngine(t, Config{}, trace("get a", "get b"), c0, c1)

	require.NoError(t, e.schedule(time.Now()))
	assert.Empty(t, c0.out.String())
	assert.False(t, e.conns[0].writable)
	assert.Equal(t, "get a\r\nget b\r\n", c1.out.String())
	assert.Equal(t, int64(2), e.sent.Load())
	assert.Equal(t, 0, e.conns[0].InFlight())
}

func TestWouldBlockLeavesSourceUntouched(t *testing.T) {
	c0 := newFake(3)
	c0.budget = 0
	src := trace("get a", "get b")
	e, _ := newTestEngine(t, Config{}, src, c0)

	require.NoError(t, e.schedule(time.Now()))
	assert.Zero(t, e.sent.Load())

	cmd, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", cmd.Key)
}

func TestPartialWriteIsFlushedOnWritableEdge(t *testing.T) {
	c0 := newFake(3)
	c0.budget = 4
	e, _ := newTestEngine(t, Config{}, trace("get alpha", "get beta"), c0)

	require.NoError(t, e.schedule(time.Now()))
	conn := e.conns[0]
	assert.Equal(t, "get ", c0.out.String())
	assert.Equal(t, 1, conn.InFlight(), "a partially written request is in flight")
	assert.Equal(t, "alpha\r\n", string(conn.wbuf))
	assert.False(t, conn.ready(e.conf.MaxInFlight))

	c0.budget = -1
	conn.writable = true
	require.NoError(t, conn.flush())
	assert.Empty(t, conn.wbuf)

	require.NoError(t, e.schedule(time.Now()))
	assert.Equal(t, "get alpha\r\nget beta\r\n", c0.out.String())
	assert.Equal(t, int64(2), e.sent.Load())
}

func TestInFlightCaps(t *testing.T) {
	t.Run("per connection", func(t *testing.T) {
		c0 := newFake(3)
		e, _ := newTestEngine(t, Config{MaxInFlight: 2}, trace("get a", "get b", "get c"), c0)
		require.NoError(t, e.schedule(time.Now()))
		assert.Equal(t, 2, e.inFlight)

		c0.reply("END\r\n")
		require.NoError(t, e.onReadable(e.conns[0]))
		require.NoError(t, e.schedule(time.Now()))
		assert.Equal(t, "get a\r\nget b\r\nget c\r\n", c0.out.String())
	})

	t.Run("total", func(t *testing.T) {
		c0, c1 := newFake(3), newFake(4)
		e, _ := newTestEngine(t, Config{MaxInFlight: 2, MaxInFlightTotal: 3}, trace("get a", "get b", "get c", "get d"), c0, c1)
		require.NoError(t, e.schedule(time.Now()))
		assert.Equal(t, 3, e.inFlight)
		assert.Equal(t, "get a\r\nget c\r\n", c0.out.String())
		assert.Equal(t, "get b\r\n", c1.out.String())
	})
}

func TestDecodeFoundValue(t *testing.T) {
	c0 := newFake(3)
	e, collector := newTestEngine(t, Config{}, trace("get k"), c0)
	require.NoError(t, e.schedule(time.Now()))

	c0.reply("VALUE k 0 5\r\nhello\r\nEND\r\n")
	require.NoError(t, e.onReadable(e.conns[0]))

	assert.Empty(t, e.conns[0].rbuf)
	assert.Equal(t, 0, e.conns[0].InFlight())
	assert.Equal(t, int64(1), collector.Succeeded(protocol.GET))
	assert.Equal(t, int64(1), collector.Responses("FOUND (VALUE)"))
}

func TestDecodeMissRecordsNoLatency(t *testing.T) {
	c0 := newFake(3)
	e, collector := newTestEngine(t, Config{}, trace("get k"), c0)
	require.NoError(t, e.schedule(time.Now()))

	c0.reply("END\r\n")
	require.NoError(t, e.onReadable(e.conns[0]))

	assert.Equal(t, int64(1), collector.Responses("NOT_FOUND (END)"))
	assert.Zero(t, collector.Succeeded(protocol.GET))
}

func TestDecodeAcrossReads(t *testing.T) {
	c0 := newFake(3)
	e, collector := newTestEngine(t, Config{}, trace("get k", "set j 0 0 2", "ab"), c0)
	require.NoError(t, e.schedule(time.Now()))

	resp := "VALUE k 0 5\r\nhello\r\nEND\r\nSTORED\r\n"
	for i := 0; i < len(resp); i++ {
		c0.reply(resp[i : i+1])
		require.NoError(t, e.onReadable(e.conns[0]))
	}
	assert.Equal(t, int64(2), e.completed.Load())
	assert.Equal(t, int64(1), collector.Succeeded(protocol.GET))
	assert.Equal(t, int64(1), collector.Succeeded(protocol.SET))
	assert.Zero(t, e.deps.Len())
}

func TestMalformedResponseCompletesRequest(t *testing.T) {
	c0 := newFake(3)
	var logs bytes.Buffer
	e, collector := newTestEngine(t, Config{Logger: log.NewLogfmtLogger(&logs), Hazards: mutating}, trace("delete k", "get k"), c0)
	require.NoError(t, e.schedule(time.Now()))
	assert.Equal(t, 1, e.inFlight)

	c0.reply("WHAT\r\n")
	require.NoError(t, e.onReadable(e.conns[0]))
	assert.Equal(t, int64(1), collector.Responses("MALFORMED"))
	assert.Contains(t, logs.String(), "malformed response")
	assert.False(t, e.deps.Contains("k"))
}

func TestUnsolicitedBytesAreDiscarded(t *testing.T) {
	c0 := newFake(3)
	var logs bytes.Buffer
	e, _ := newTestEngine(t, Config{Logger: log.NewLogfmtLogger(&logs)}, trace(), c0)

	c0.reply("STORED\r\n")
	require.NoError(t, e.onReadable(e.conns[0]))
	assert.Empty(t, e.conns[0].rbuf)
	assert.Contains(t, logs.String(), "unsolicited")
}

func TestPeerCloseIsFatal(t *testing.T) {
	c0 := newFake(3)
	e, collector := newTestEngine(t, Config{}, trace("get a", "get b"), c0)
	require.NoError(t, e.schedule(time.Now()))

	c0.reply("END\r\n")
	c0.eof = true
	err := e.onReadable(e.conns[0])
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, int64(1), collector.Responses("NOT_FOUND (END)"), "data read before the close is still decoded")
}

func TestDelayPacesSends(t *testing.T) {
	c0 := newFake(3)
	e, _ := newTestEngine(t, Config{Delay: time.Hour}, trace("get a", "get b"), c0)

	now := time.Now()
	require.NoError(t, e.schedule(now))
	assert.Equal(t, int64(1), e.sent.Load())
	assert.Equal(t, now.Add(time.Hour), e.wakeAt)

	require.NoError(t, e.schedule(now.Add(time.Hour)))
	assert.Equal(t, int64(2), e.sent.Load())
}

func TestRateLimiterPacesSends(t *testing.T) {
	c0 := newFake(3)
	e, _ := newTestEngine(t, Config{Rate: 1}, trace("get a", "get b", "get c"), c0)

	now := time.Now()
	require.NoError(t, e.schedule(now))
	assert.Equal(t, int64(1), e.sent.Load())
	assert.False(t, e.wakeAt.IsZero())
	assert.WithinDuration(t, now.Add(time.Second), e.wakeAt, 10*time.Millisecond)
}

func TestExhaustionCallsHookOnce(t *testing.T) {
	calls := 0
	c0 := newFake(3)
	e, _ := newTestEngine(t, Config{OnExhausted: func() { calls++ }}, trace("get a"), c0)

	require.NoError(t, e.schedule(time.Now()))
	require.NoError(t, e.schedule(time.Now()))
	e.markExhausted()
	assert.True(t, e.exhausted)
	assert.Equal(t, 1, calls)
}

func TestNewValidatesShards(t *testing.T) {
	collector := stats.NewCollector(false)

	_, err := New(Config{}, [][]transport.Transport{{newFake(3)}, {}}, trace(), collector)
	assert.ErrorIs(t, err, ErrNoConnections)

	_, err = New(Config{}, nil, trace(), collector)
	assert.ErrorIs(t, err, ErrNoConnections)
}
