// Package log builds the go-kit logger shared by the CLI and the engine.
package log

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-kit/log/term"
)

const (
	LevelNone  = "none"
	LevelError = "error"
	LevelWarn  = "warn"
	LevelInfo  = "info"
	LevelDebug = "debug"
)

// Options controls the logger produced by Setup.
type Options struct {
	Level string
	JSON  bool
	Color bool
	RunID string
}

// Setup returns a levelled logger writing to w. Every record carries ts,
// caller and run_id.
func Setup(w io.Writer, opts Options) (log.Logger, error) {
	var logger log.Logger

	if opts.Color {
		colorFn := func(keyvals ...any) term.FgBgColor {
			for i := 0; i < len(keyvals)-1; i += 2 {
				if keyvals[i] != level.Key() {
					continue
				}

				switch keyvals[i+1] {
				case level.DebugValue():
					return term.FgBgColor{Fg: term.DarkBlue}
				case level.WarnValue():
					return term.FgBgColor{Fg: term.Yellow}
				case level.ErrorValue():
					return term.FgBgColor{Fg: term.Red}
				default:
					return term.FgBgColor{}
				}
			}

			return term.FgBgColor{}
		}

		if opts.JSON {
			logger = term.NewLogger(w, log.NewJSONLogger, colorFn)
		} else {
			logger = term.NewLogger(w, log.NewLogfmtLogger, colorFn)
		}
	} else {
		if opts.JSON {
			logger = log.NewJSONLogger(log.NewSyncWriter(w))
		} else {
			logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
		}
	}

	allow, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	logger = level.NewFilter(logger, allow)

	keyvals := []any{"ts", log.DefaultTimestamp, "caller", log.DefaultCaller}
	if opts.RunID != "" {
		keyvals = append(keyvals, "run_id", opts.RunID)
	}
	return log.With(logger, keyvals...), nil
}

func parseLevel(name string) (level.Option, error) {
	switch strings.ToLower(name) {
	case LevelNone:
		return level.AllowNone(), nil
	case LevelError:
		return level.AllowError(), nil
	case LevelWarn:
		return level.AllowWarn(), nil
	case LevelInfo, "":
		return level.AllowInfo(), nil
	case LevelDebug:
		return level.AllowDebug(), nil
	default:
		return nil, fmt.Errorf("unknown log level %q", name)
	}
}
