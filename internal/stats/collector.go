package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
)

// Collector accumulates per-kind latency aggregates and response counts. It
// is safe for concurrent use; in paired mode both roles record into the same
// collector.
type Collector struct {
	mu         sync.Mutex
	sample     bool
	aggregates map[protocol.Kind]*Aggregate
	responses  map[string]int64
	lost       int64
}

// NewCollector returns a collector. With sample set, every successful latency
// is retained for exact percentiles.
func NewCollector(sample bool) *Collector {
	return &Collector{
		sample:     sample,
		aggregates: make(map[protocol.Kind]*Aggregate),
		responses:  make(map[string]int64),
	}
}

// Record accounts one completed response. Only successful outcomes reach the
// latency aggregate.
func (c *Collector) Record(kind protocol.Kind, outcome protocol.Outcome, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[outcome.String()]++
	if !outcome.Success() {
		return
	}
	a, ok := c.aggregates[kind]
	if !ok {
		a = &Aggregate{sample: c.sample}
		c.aggregates[kind] = a
	}
	a.Update(toMillis(latency))
}

// AddLost accounts requests still in flight when a run gave up waiting.
func (c *Collector) AddLost(n int) {
	c.mu.Lock()
	c.lost += int64(n)
	c.mu.Unlock()
}

func (c *Collector) Succeeded(kind protocol.Kind) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.aggregates[kind]; ok {
		return a.Count
	}
	return 0
}

func (c *Collector) Responses(label string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responses[label]
}

// Snapshot builds a report. Retained samples are copied and sorted here, off
// the hot path.
func (c *Collector) Snapshot(wall time.Duration, percentiles []float64) Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(percentiles) == 0 {
		percentiles = DefaultPercentiles
	}
	r := Report{
		WallTime: wall,
		Lost:     c.lost,
	}
	for _, kind := range protocol.Kinds() {
		a, ok := c.aggregates[kind]
		if !ok {
			continue
		}
		kr := KindReport{
			Kind:      kind.String(),
			Succeeded: a.Count,
			AverageMs: a.Average(),
			MaxMs:     a.Max,
			StdDevMs:  a.StdDev(),
		}
		if c.sample && len(a.samples) > 0 {
			kr.samples = append([]float64(nil), a.samples...)
			values := Percentiles(kr.samples, percentiles)
			for i, p := range percentiles {
				kr.Percentiles = append(kr.Percentiles, PercentileValue{Percentile: p * 100, LatencyMs: values[i]})
			}
		}
		r.Kinds = append(r.Kinds, kr)
	}

	var completed int64
	for label, n := range c.responses {
		r.Responses = append(r.Responses, ResponseCount{Response: label, Count: n})
		completed += n
	}
	sort.Slice(r.Responses, func(i, j int) bool { return r.Responses[i].Response < r.Responses[j].Response })
	r.Completed = completed
	if wall > 0 {
		r.Throughput = float64(completed) / wall.Seconds()
	}
	return r
}
