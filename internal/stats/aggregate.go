package stats

import (
	"math"
	"time"
)

// Aggregate keeps running latency statistics for one command kind. Mean and
// M2 follow Welford's online update, so variance is available without
// keeping every sample.
type Aggregate struct {
	Count   int64
	Total   float64
	Mean    float64
	M2      float64
	Max     float64
	samples []float64
	sample  bool
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Update adds one latency, in milliseconds.
func (a *Aggregate) Update(ms float64) {
	a.Count++
	a.Total += ms
	if ms > a.Max {
		a.Max = ms
	}
	delta := ms - a.Mean
	a.Mean += delta / float64(a.Count)
	a.M2 += delta * (ms - a.Mean)
	if a.sample {
		a.samples = append(a.samples, ms)
	}
}

func (a *Aggregate) Average() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Total / float64(a.Count)
}

// Variance is the sample variance; zero until two values were seen.
func (a *Aggregate) Variance() float64 {
	if a.Count < 2 {
		return 0
	}
	return a.M2 / float64(a.Count-1)
}

func (a *Aggregate) StdDev() float64 {
	return math.Sqrt(a.Variance())
}
