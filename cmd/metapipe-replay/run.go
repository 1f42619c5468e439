package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-kit/log/level"
	replay "github.com/jsp-lqk/metapipe-replay"
	"github.com/jsp-lqk/metapipe-replay/internal/metrics"
	"github.com/jsp-lqk/metapipe-replay/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"
)

type runFunc func(ctx context.Context, conf replay.Config) (stats.Report, error)

// execute runs fn with the resolved configuration and prints its report. A
// run aborted by a transport failure still prints what was measured.
func (a *app) execute(ctx context.Context, fn runFunc) error {
	conf, err := a.config()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if addr := a.v.GetString("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		conf.Observer = metrics.NewObserver(reg, a.runID)
		go func() {
			if err := metrics.Serve(ctx, addr, reg, a.logger); err != nil {
				level.Error(a.logger).Log("msg", "metrics endpoint failed", "addr", addr, "err", err)
			}
		}()
	}

	report, runErr := fn(ctx, conf)
	if runErr == nil || report.Completed > 0 {
		if err := writeReport(a.stdout, a.v.GetString("output"), report); err != nil {
			level.Error(a.logger).Log("msg", "writing report failed", "err", err)
		}
	}
	if runErr != nil {
		level.Error(a.logger).Log("msg", "run failed", "err", runErr)
		return failed(runErr)
	}
	return nil
}

func writeReport(w io.Writer, format string, r stats.Report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		return r.WriteText(w)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
