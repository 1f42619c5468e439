package stats

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/jamiealquiza/tachymeter"
)

type PercentileValue struct {
	Percentile float64 `json:"percentile" yaml:"percentile"`
	LatencyMs  float64 `json:"latency_ms" yaml:"latency_ms"`
}

type KindReport struct {
	Kind        string            `json:"kind" yaml:"kind"`
	Succeeded   int64             `json:"succeeded" yaml:"succeeded"`
	AverageMs   float64           `json:"average_ms" yaml:"average_ms"`
	MaxMs       float64           `json:"max_ms" yaml:"max_ms"`
	StdDevMs    float64           `json:"stddev_ms" yaml:"stddev_ms"`
	Percentiles []PercentileValue `json:"percentiles,omitempty" yaml:"percentiles,omitempty"`

	samples []float64
}

type ResponseCount struct {
	Response string `json:"response" yaml:"response"`
	Count    int64  `json:"count" yaml:"count"`
}

type Report struct {
	WallTime   time.Duration   `json:"wall_time" yaml:"wall_time"`
	Completed  int64           `json:"completed" yaml:"completed"`
	Throughput float64         `json:"throughput_ops" yaml:"throughput_ops"`
	Lost       int64           `json:"lost" yaml:"lost"`
	Kinds      []KindReport    `json:"kinds" yaml:"kinds"`
	Responses  []ResponseCount `json:"responses" yaml:"responses"`
}

const rule = "--------------------------------"

var heading = color.New(color.FgCyan, color.Bold)

// WriteText prints the human-readable report.
func (r Report) WriteText(w io.Writer) error {
	ew := &errWriter{w: w}

	heading.Fprintln(ew, "\n--- Performance Statistics ---")
	ew.printf("Wall time:  %s\n", r.WallTime.Round(time.Millisecond))
	ew.printf("Completed:  %d (%.1f ops/sec)\n", r.Completed, r.Throughput)
	for _, k := range r.Kinds {
		ew.printf("%s\n", rule)
		ew.printf("Command Type: %s\n", k.Kind)
		ew.printf("  - Succeeded Requests: %d\n", k.Succeeded)
		if k.Succeeded == 0 {
			continue
		}
		ew.printf("  - Average Latency:    %.6f ms\n", k.AverageMs)
		ew.printf("  - Maximum Latency:    %.6f ms\n", k.MaxMs)
		ew.printf("  - Latency Std Dev:    %.6f ms\n", k.StdDevMs)
		for _, p := range k.Percentiles {
			ew.printf("  - p%-6g            %.6f ms\n", p.Percentile, p.LatencyMs)
		}
		if len(k.samples) > 1 {
			ew.printf("  - Histogram:\n%s\n", histogram(k.samples, r.WallTime))
		}
	}
	ew.printf("%s\n", rule)

	if len(r.Responses) > 0 {
		heading.Fprintln(ew, "\n--- Server Response Counts ---")
		for _, rc := range r.Responses {
			ew.printf("  - %s: %d\n", rc.Response, rc.Count)
		}
		ew.printf("%s\n", rule)
	}
	if r.Lost > 0 {
		color.New(color.FgYellow).Fprintf(ew, "Warning: %d requests may have been lost.\n", r.Lost)
	}
	return ew.err
}

func histogram(samples []float64, wall time.Duration) string {
	t := tachymeter.New(&tachymeter.Config{Size: len(samples), HBins: 10})
	for _, ms := range samples {
		t.AddTime(time.Duration(ms * float64(time.Millisecond)))
	}
	t.SetWallTime(wall)
	return t.Calc().Histogram.String(25)
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...any) {
	fmt.Fprintf(e, format, args...)
}
