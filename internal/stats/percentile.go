package stats

import (
	"math"
	"slices"
)

// DefaultPercentiles are reported when sampling is on and none are configured.
var DefaultPercentiles = []float64{0.5, 0.9, 0.99, 0.999}

// Percentiles sorts samples in place and returns the value at ceil(p*n)-1 for
// each requested p in (0, 1].
func Percentiles(samples []float64, ps []float64) []float64 {
	out := make([]float64, len(ps))
	if len(samples) == 0 {
		return out
	}
	slices.Sort(samples)
	for i, p := range ps {
		out[i] = samples[percentileIndex(len(samples), p)]
	}
	return out
}

func percentileIndex(n int, p float64) int {
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}
