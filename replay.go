// Package replay runs pipelined memcached workloads and reports their
// latency and throughput.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jsp-lqk/metapipe-replay/internal/engine"
	"github.com/jsp-lqk/metapipe-replay/internal/stats"
	"github.com/jsp-lqk/metapipe-replay/internal/transport"
	"github.com/jsp-lqk/metapipe-replay/internal/workload"
	"github.com/jsp-lqk/metapipe-replay/router"
)

// Run replays src over Connections connections per server from a single event
// loop. On a transport failure the statistics gathered so far are returned
// together with the error.
func Run(ctx context.Context, conf Config, src workload.Source) (stats.Report, error) {
	conf, err := conf.withDefaults()
	if err != nil {
		return stats.Report{}, err
	}

	shards, closeAll, err := dial(conf.Servers, conf.Connections)
	if err != nil {
		return stats.Report{}, err
	}
	defer closeAll()

	collector := stats.NewCollector(conf.Sample)
	ec := conf.engineConfig("replay", conf.scaledDelay())
	ec.Router = router.New(len(conf.Servers))
	e, err := engine.New(ec, shards, src, collector)
	if err != nil {
		return stats.Report{}, err
	}
	level.Info(conf.Logger).Log("msg", "starting replay", "servers", len(conf.Servers), "connections", len(conf.Servers)*conf.Connections, "max_inflight", conf.MaxInFlight)

	stop := watchProgress(conf.Logger, conf.Progress, e)
	res, err := e.Run(ctx)
	stop()

	collector.AddLost(res.Lost)
	report := collector.Snapshot(res.Elapsed, conf.Percentiles)
	if err != nil {
		return report, fmt.Errorf("replay aborted: %w", err)
	}
	level.Info(conf.Logger).Log("msg", "replay finished", "sent", res.Sent, "completed", res.Completed, "elapsed", res.Elapsed, "cancelled", res.Cancelled)
	return report, nil
}

// dial opens n connections to every server. shards[i] holds the connections
// to Servers[i].
func dial(servers []string, n int) ([][]transport.Transport, func(), error) {
	var opened []transport.Transport
	closeAll := func() {
		for _, t := range opened {
			_ = t.Close()
		}
	}

	shards := make([][]transport.Transport, len(servers))
	for i, server := range servers {
		network, address := transport.SplitTarget(server)
		for j := 0; j < n; j++ {
			s, err := transport.Dial(network, address)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("connect to %s: %w", server, err)
			}
			opened = append(opened, s)
			shards[i] = append(shards[i], s)
		}
	}
	return shards, closeAll, nil
}

type progressSource interface {
	Progress() (sent, completed int64)
}

// watchProgress logs progress of every source at interval until stopped.
func watchProgress(logger log.Logger, interval time.Duration, sources ...progressSource) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var lastCompleted int64
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				var sent, completed int64
				for _, s := range sources {
					ps, pc := s.Progress()
					sent += ps
					completed += pc
				}
				rate := float64(completed-lastCompleted) / interval.Seconds()
				lastCompleted = completed
				level.Info(logger).Log("msg", "progress", "sent", sent, "completed", completed, "ops_per_sec", fmt.Sprintf("%.0f", rate))
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
