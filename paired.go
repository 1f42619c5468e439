package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/jsp-lqk/metapipe-replay/internal/engine"
	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
	"github.com/jsp-lqk/metapipe-replay/internal/seed"
	"github.com/jsp-lqk/metapipe-replay/internal/stats"
	"github.com/jsp-lqk/metapipe-replay/internal/workload"
	"github.com/jsp-lqk/metapipe-replay/router"
	"golang.org/x/sync/errgroup"
)

const DefaultPairedKey = "metapipe:paired"

// Paired describes the two-role micro-benchmark: a reader issuing gets and a
// writer issuing replaces on the same key.
type Paired struct {
	Key       string
	ValueSize int
	// Reads and Writes are the targets of each role. The first role to reach
	// its target stops the other. Zero means the role runs until stopped.
	Reads  int64
	Writes int64
	// Keep leaves the key in place after the run.
	Keep bool
}

// RunPaired seeds the key, then runs a reader and a writer concurrently, each
// on its own event loop and connections, recording into one collector.
func RunPaired(ctx context.Context, conf Config, p Paired) (stats.Report, error) {
	conf, err := conf.withDefaults()
	if err != nil {
		return stats.Report{}, err
	}
	if p.Key == "" {
		p.Key = DefaultPairedKey
	}
	if p.ValueSize <= 0 {
		p.ValueSize = 1
	}
	if p.Reads <= 0 && p.Writes <= 0 {
		return stats.Report{}, errors.New("paired run needs a read or write target")
	}

	r := router.New(len(conf.Servers))
	value := workload.GenerateValue(p.ValueSize)
	seeder, err := seed.New(conf.Servers, r, time.Second, conf.Logger)
	if err != nil {
		return stats.Report{}, err
	}
	if _, err := seeder.Add(p.Key, value); err != nil {
		return stats.Report{}, err
	}
	if !p.Keep {
		defer func() {
			if _, err := seeder.Delete(p.Key); err != nil {
				level.Warn(conf.Logger).Log("msg", "cleanup failed", "key", p.Key, "err", err)
			}
		}()
	}

	readShards, closeReaders, err := dial(conf.Servers, conf.Connections)
	if err != nil {
		return stats.Report{}, err
	}
	defer closeReaders()
	writeShards, closeWriters, err := dial(conf.Servers, conf.Connections)
	if err != nil {
		return stats.Report{}, err
	}
	defer closeWriters()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	collector := stats.NewCollector(conf.Sample)
	delay := conf.scaledDelay()

	rc := conf.engineConfig("reader", delay)
	rc.Router = r
	rc.OnExhausted = cancel
	// One key is hammered by both roles; ordering on it is not the point.
	rc.Hazards = []protocol.Kind{}
	reader, err := engine.New(rc, readShards, workload.NewFixedSource(protocol.GET, p.Key, nil, p.Reads), collector)
	if err != nil {
		return stats.Report{}, err
	}

	wc := conf.engineConfig("writer", delay)
	wc.Router = r
	wc.OnExhausted = cancel
	wc.Hazards = []protocol.Kind{}
	writer, err := engine.New(wc, writeShards, workload.NewFixedSource(protocol.REPLACE, p.Key, value, p.Writes), collector)
	if err != nil {
		return stats.Report{}, err
	}

	level.Info(conf.Logger).Log("msg", "starting paired run", "key", p.Key, "reads", p.Reads, "writes", p.Writes)
	stop := watchProgress(conf.Logger, conf.Progress, reader, writer)

	var results [2]engine.Result
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := reader.Run(gctx)
		results[0] = res
		if err != nil {
			return fmt.Errorf("reader: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		res, err := writer.Run(gctx)
		results[1] = res
		if err != nil {
			return fmt.Errorf("writer: %w", err)
		}
		return nil
	})
	err = g.Wait()
	wall := time.Since(start)
	stop()

	collector.AddLost(results[0].Lost + results[1].Lost)
	report := collector.Snapshot(wall, conf.Percentiles)
	if err != nil {
		return report, fmt.Errorf("paired run aborted: %w", err)
	}
	level.Info(conf.Logger).Log("msg", "paired run finished", "reads", results[0].Completed, "writes", results[1].Completed, "elapsed", wall)
	return report, nil
}
