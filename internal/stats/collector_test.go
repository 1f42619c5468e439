package stats

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateWelford(t *testing.T) {
	var a Aggregate
	for _, ms := range []float64{10, 20, 30} {
		a.Update(ms)
	}
	assert.Equal(t, int64(3), a.Count)
	assert.InDelta(t, 20.0, a.Average(), 1e-9)
	assert.InDelta(t, 20.0, a.Mean, 1e-9)
	assert.Equal(t, 30.0, a.Max)
	assert.InDelta(t, 100.0, a.Variance(), 1e-9)
	assert.InDelta(t, 10.0, a.StdDev(), 1e-9)
}

func TestAggregateMatchesTwoPass(t *testing.T) {
	values := []float64{0.125, 3.5, 1.75, 99.0, 12.25, 0.5, 7.0, 7.0, 42.125}
	var a Aggregate
	var sum float64
	for _, v := range values {
		a.Update(v)
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	assert.InDelta(t, mean, a.Mean, 1e-9)
	assert.InDelta(t, sq/float64(len(values)-1), a.Variance(), 1e-9)
}

func TestAggregateSingleValue(t *testing.T) {
	var a Aggregate
	assert.Zero(t, a.Average())
	a.Update(5)
	assert.Zero(t, a.Variance())
	assert.Zero(t, a.StdDev())
}

func TestPercentiles(t *testing.T) {
	samples := []float64{10, 1, 9, 2, 8, 3, 7, 4, 6, 5}
	got := Percentiles(samples, []float64{0.1, 0.5, 0.95, 1})
	assert.Equal(t, []float64{1, 5, 10, 10}, got)
	assert.Equal(t, []float64{0}, Percentiles(nil, []float64{0.5}))
	assert.Equal(t, 0, percentileIndex(5, 0))
}

func TestCollectorRecord(t *testing.T) {
	c := NewCollector(true)
	c.Record(protocol.GET, protocol.Found, 10*time.Millisecond)
	c.Record(protocol.GET, protocol.Miss, 15*time.Millisecond)
	c.Record(protocol.GET, protocol.Found, 30*time.Millisecond)
	c.Record(protocol.SET, protocol.Stored, 20*time.Millisecond)
	c.Record(protocol.ADD, protocol.NotStored, time.Millisecond)
	c.Record(protocol.ADD, protocol.ServerError, time.Millisecond)

	assert.Equal(t, int64(2), c.Succeeded(protocol.GET))
	assert.Equal(t, int64(1), c.Succeeded(protocol.SET))
	assert.Zero(t, c.Succeeded(protocol.ADD))
	assert.Equal(t, int64(1), c.Responses("NOT_FOUND (END)"))
	assert.Equal(t, int64(2), c.Responses("FOUND (VALUE)"))
	assert.Equal(t, int64(1), c.Responses("SERVER/CLIENT_ERROR"))

	r := c.Snapshot(2*time.Second, []float64{0.5, 1})
	assert.Equal(t, int64(6), r.Completed)
	assert.InDelta(t, 3.0, r.Throughput, 1e-9)
	require.Len(t, r.Kinds, 2)
	assert.Equal(t, "get", r.Kinds[0].Kind)
	assert.InDelta(t, 20.0, r.Kinds[0].AverageMs, 1e-9)
	assert.Equal(t, []PercentileValue{{50, 10}, {100, 30}}, r.Kinds[0].Percentiles)
	assert.Equal(t, "set", r.Kinds[1].Kind)

	labels := make([]string, 0, len(r.Responses))
	for _, rc := range r.Responses {
		labels = append(labels, rc.Response)
	}
	assert.IsNonDecreasing(t, labels)
}

func TestCollectorWithoutSampling(t *testing.T) {
	c := NewCollector(false)
	c.Record(protocol.GET, protocol.Found, time.Millisecond)
	r := c.Snapshot(time.Second, nil)
	require.Len(t, r.Kinds, 1)
	assert.Empty(t, r.Kinds[0].Percentiles)
}

func TestCollectorConcurrentRecord(t *testing.T) {
	c := NewCollector(true)
	var wg sync.WaitGroup
	for _, kind := range []protocol.Kind{protocol.GET, protocol.REPLACE} {
		wg.Add(1)
		go func(kind protocol.Kind) {
			defer wg.Done()
			outcome := protocol.Found
			if kind == protocol.REPLACE {
				outcome = protocol.Stored
			}
			for i := 0; i < 5000; i++ {
				c.Record(kind, outcome, time.Duration(i)*time.Microsecond)
			}
		}(kind)
	}
	wg.Wait()
	assert.Equal(t, int64(5000), c.Succeeded(protocol.GET))
	assert.Equal(t, int64(5000), c.Succeeded(protocol.REPLACE))
	r := c.Snapshot(time.Second, nil)
	assert.Len(t, r.Kinds[0].Percentiles, len(DefaultPercentiles))
}

func TestReportWriteText(t *testing.T) {
	c := NewCollector(true)
	for _, ms := range []int{10, 20, 30} {
		c.Record(protocol.GET, protocol.Found, time.Duration(ms)*time.Millisecond)
	}
	c.Record(protocol.GET, protocol.Miss, time.Millisecond)
	c.AddLost(2)

	var buf bytes.Buffer
	require.NoError(t, c.Snapshot(time.Second, nil).WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "Command Type: get")
	assert.Contains(t, out, "Succeeded Requests: 3")
	assert.Contains(t, out, "Average Latency:    20.000000 ms")
	assert.Contains(t, out, "Latency Std Dev:    10.000000 ms")
	assert.Contains(t, out, "NOT_FOUND (END): 1")
	assert.Contains(t, out, "2 requests may have been lost")
}
