// Package metrics exposes live run counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Observer implements engine.Observer. One observer may be shared by the
// engines of a paired run.
type Observer struct {
	sent      *prometheus.CounterVec
	responses *prometheus.CounterVec
	inFlight  prometheus.Gauge
	latency   *prometheus.HistogramVec
}

func NewObserver(reg prometheus.Registerer, runID string) *Observer {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"run_id": runID}
	return &Observer{
		sent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "metapipe_requests_sent_total",
				Help:        "Requests written to the server, by kind",
				ConstLabels: labels,
			}, []string{"kind"},
		),
		responses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "metapipe_responses_total",
				Help:        "Responses parsed, by request kind and outcome",
				ConstLabels: labels,
			}, []string{"kind", "outcome"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "metapipe_requests_in_flight",
				Help:        "Requests sent and still awaiting a response",
				ConstLabels: labels,
			},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "metapipe_request_duration_seconds",
				Help:        "Latency of successful requests",
				ConstLabels: labels,
				Buckets:     prometheus.ExponentialBuckets(0.00005, 2, 16),
			}, []string{"kind"},
		),
	}
}

func (o *Observer) Sent(kind protocol.Kind) {
	o.sent.WithLabelValues(kind.String()).Inc()
	o.inFlight.Inc()
}

func (o *Observer) Completed(kind protocol.Kind, outcome protocol.Outcome, latency time.Duration) {
	o.inFlight.Dec()
	o.responses.WithLabelValues(kind.String(), outcome.String()).Inc()
	if outcome.Success() {
		o.latency.WithLabelValues(kind.String()).Observe(latency.Seconds())
	}
}

// Serve exposes the registry on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{DisableCompression: true}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	level.Info(logger).Log("msg", "serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
