package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	replay "github.com/jsp-lqk/metapipe-replay"
	"github.com/jsp-lqk/metapipe-replay/internal/engine"
	mplog "github.com/jsp-lqk/metapipe-replay/internal/log"
	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
	"github.com/jsp-lqk/metapipe-replay/internal/stats"
	"github.com/jsp-lqk/metapipe-replay/internal/timescale"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "METAPIPE"

// app carries what every subcommand needs once the persistent flags have
// been resolved.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
	runID  string
	logger log.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "metapipe-replay",
		Short:         "Pipelined memcached benchmark and trace replay",
		Long:          "Drives pipelined memcached connections from a trace or a synthetic workload and reports latency and throughput.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringSlice("server", []string{"127.0.0.1:11211"}, "Target server, host:port or unix:/path (repeatable; keys are sharded across several)")
	flags.Int("connections", 1, "Connections per server")
	flags.Int("max-inflight", engine.DefaultMaxInFlight, "Maximum outstanding requests per connection")
	flags.Int("max-inflight-total", 0, "Maximum outstanding requests across all connections (0 = no global cap)")
	flags.Int64("ops", 0, "Stop after this many requests (0 = until the workload ends)")
	flags.Int("value-size", 32, "Value size in bytes for generated storage requests")
	flags.Float64("rate", 0, "Requests per second (0 = unpaced)")
	flags.Duration("delay", 0, "Artificial pause after every request, scaled by --scale-file")
	flags.String("scale-file", timescale.DefaultPath, "Time-scale factor file (1000 = 1.0x)")
	flags.Duration("drain-timeout", engine.DefaultDrainTimeout, "How long to wait for outstanding responses at the end")
	flags.StringSlice("hazards", []string{"add"}, "Command kinds that block later requests on their key until answered, or none")
	flags.Bool("sample", false, "Keep every latency sample for exact percentiles")
	flags.Float64Slice("percentiles", stats.DefaultPercentiles, "Percentiles to report when sampling")
	flags.String("output", "text", "Report format: text, json or yaml")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.Duration("progress", 0, "Log progress at this interval (0 = off)")
	flags.String("log-level", mplog.LevelInfo, "Log level: none, error, warn, info, debug")
	flags.Bool("log-json", false, "Log in JSON")
	flags.Bool("log-color", false, "Colour log levels")
	flags.String("config", "", "YAML config file providing flag values")

	root.AddCommand(newTraceCmd(a), newSyntheticCmd(a), newPairedCmd(a))
	return root
}

// setup binds flags, environment and config file, in rising precedence from
// file to environment to explicit flags, then builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	var bindErr error
	bind := func(f *pflag.Flag) {
		if err := a.v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	if bindErr != nil {
		return bindErr
	}

	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	a.runID = uuid.NewString()
	logger, err := mplog.Setup(a.stderr, mplog.Options{
		Level: a.v.GetString("log-level"),
		JSON:  a.v.GetBool("log-json"),
		Color: a.v.GetBool("log-color") && isTerminal(a.stderr),
		RunID: a.runID,
	})
	if err != nil {
		return err
	}
	a.logger = logger

	switch a.v.GetString("output") {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", a.v.GetString("output"))
	}
	return nil
}

func (a *app) config() (replay.Config, error) {
	ps, err := percentiles(a.v)
	if err != nil {
		return replay.Config{}, err
	}
	for _, p := range ps {
		if p <= 0 || p > 1 {
			return replay.Config{}, fmt.Errorf("percentile %g out of range (0, 1]", p)
		}
	}
	hazards, err := hazardKinds(a.v.GetStringSlice("hazards"))
	if err != nil {
		return replay.Config{}, err
	}
	return replay.Config{
		Servers:          a.v.GetStringSlice("server"),
		Connections:      a.v.GetInt("connections"),
		MaxInFlight:      a.v.GetInt("max-inflight"),
		MaxInFlightTotal: a.v.GetInt("max-inflight-total"),
		Rate:             a.v.GetFloat64("rate"),
		Delay:            a.v.GetDuration("delay"),
		ScaleFile:        a.v.GetString("scale-file"),
		DrainTimeout:     a.v.GetDuration("drain-timeout"),
		Hazards:          hazards,
		Sample:           a.v.GetBool("sample"),
		Percentiles:      ps,
		Progress:         a.v.GetDuration("progress"),
		Logger:           a.logger,
	}, nil
}

// percentiles reads the list from a flag or environment value ("0.5,0.99")
// or from a YAML sequence in the config file.
func percentiles(v *viper.Viper) ([]float64, error) {
	switch list := v.Get("percentiles").(type) {
	case []float64:
		return list, nil
	case []any:
		out := make([]float64, 0, len(list))
		for _, item := range list {
			switch p := item.(type) {
			case float64:
				out = append(out, p)
			case int:
				out = append(out, float64(p))
			default:
				return nil, fmt.Errorf("bad percentile %v", item)
			}
		}
		return out, nil
	}

	var out []float64
	for _, field := range strings.Split(strings.Trim(v.GetString("percentiles"), "[] "), ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		p, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("bad percentile %q", field)
		}
		out = append(out, p)
	}
	return out, nil
}

// hazardKinds parses the --hazards list. Entries may themselves be comma
// separated, as they are when read from the environment. The result is never
// nil so "none" really disables dependency tracking.
func hazardKinds(names []string) ([]protocol.Kind, error) {
	kinds := []protocol.Kind{}
	for _, name := range names {
		for _, field := range strings.Split(name, ",") {
			field = strings.ToLower(strings.TrimSpace(field))
			if field == "" || field == "none" {
				continue
			}
			k, ok := protocol.ParseKind(field)
			if !ok {
				return nil, fmt.Errorf("unknown hazard kind %q", field)
			}
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

type fdWriter interface {
	Fd() uintptr
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(fdWriter)
	return ok && isatty.IsTerminal(f.Fd())
}
