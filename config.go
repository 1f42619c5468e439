package replay

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jsp-lqk/metapipe-replay/internal/engine"
	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
	"github.com/jsp-lqk/metapipe-replay/internal/stats"
	"github.com/jsp-lqk/metapipe-replay/internal/timescale"
)

var (
	ErrNoTargets     = errors.New("no target servers")
	ErrBadConnection = errors.New("connection count must be positive")
)

// Config is the flattened run configuration shared by every command.
type Config struct {
	// Servers are "host:port" or "unix:/path" targets. Keys are sharded
	// across them when there is more than one.
	Servers []string
	// Connections is the number of connections opened to each server.
	Connections      int
	MaxInFlight      int
	MaxInFlightTotal int
	// Rate caps sends per second; zero means unpaced.
	Rate float64
	// Delay is an artificial pause after every send, scaled by the factor
	// read from ScaleFile.
	Delay        time.Duration
	ScaleFile    string
	DrainTimeout time.Duration
	// Hazards are the command kinds that block later requests on their key
	// until answered. Nil keeps the engine default of add only.
	Hazards     []protocol.Kind
	Sample      bool
	Percentiles []float64
	// Progress logs sent and completed counts at this interval; zero disables it.
	Progress time.Duration

	Observer engine.Observer
	Logger   log.Logger
}

func (c Config) withDefaults() (Config, error) {
	if len(c.Servers) == 0 {
		return c, ErrNoTargets
	}
	if c.Connections == 0 {
		c.Connections = 1
	}
	if c.Connections < 0 {
		return c, fmt.Errorf("%w: %d", ErrBadConnection, c.Connections)
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = engine.DefaultMaxInFlight
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = engine.DefaultDrainTimeout
	}
	if c.ScaleFile == "" {
		c.ScaleFile = timescale.DefaultPath
	}
	if len(c.Percentiles) == 0 {
		c.Percentiles = stats.DefaultPercentiles
	}
	if c.Logger == nil {
		c.Logger = log.NewNopLogger()
	}
	return c, nil
}

// scaledDelay applies the time-scale knob to Delay. The knob is only read
// when a delay is configured.
func (c Config) scaledDelay() time.Duration {
	if c.Delay <= 0 {
		return 0
	}
	factor, err := timescale.Read(c.ScaleFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		level.Warn(c.Logger).Log("msg", "scale factor file not found, delay is not scaled", "path", c.ScaleFile)
	case err != nil:
		level.Warn(c.Logger).Log("msg", "ignoring scale factor", "path", c.ScaleFile, "err", err)
	}
	delay := factor.Scale(c.Delay)
	level.Info(c.Logger).Log("msg", "per-request delay enabled", "delay", c.Delay, "factor", factor, "scaled", delay)
	return delay
}

func (c Config) engineConfig(role string, delay time.Duration) engine.Config {
	return engine.Config{
		MaxInFlight:      c.MaxInFlight,
		MaxInFlightTotal: c.MaxInFlightTotal,
		Rate:             c.Rate,
		Delay:            delay,
		DrainTimeout:     c.DrainTimeout,
		Hazards:          c.Hazards,
		Observer:         c.Observer,
		Logger:           log.With(c.Logger, "role", role),
	}
}
