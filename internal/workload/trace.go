package workload

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
)

const maxTraceLine = protocol.MaxValueLength + 1024

// TraceSource replays a text trace. Each line is a request line in wire form
// without its terminator; storage requests are followed by exactly one value
// line. Blank and unrecognised lines are skipped with a warning.
type TraceSource struct {
	rewind
	scanner *bufio.Scanner
	logger  log.Logger
	line    int64
	skipped int64
	done    bool
}

func NewTraceSource(r io.Reader, logger log.Logger) *TraceSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTraceLine)
	return &TraceSource{scanner: scanner, logger: logger}
}

func (s *TraceSource) Next() (protocol.Command, error) {
	if c, ok := s.pending(); ok {
		return c, nil
	}
	if s.done {
		return protocol.Command{}, io.EOF
	}

	for s.scanner.Scan() {
		s.line++
		text := s.scanner.Text()
		if text == "" {
			continue
		}
		cmd, size, err := protocol.ParseCommandLine(text)
		if err != nil {
			s.skipped++
			level.Warn(s.logger).Log("msg", "skipping malformed trace line", "line", s.line, "err", err)
			continue
		}
		if !cmd.Kind.IsStorage() {
			return s.remember(cmd), nil
		}

		if !s.scanner.Scan() {
			level.Warn(s.logger).Log("msg", "incomplete request at end of trace", "line", s.line, "command", text)
			break
		}
		s.line++
		value := s.scanner.Bytes()
		if len(value) != size {
			level.Warn(s.logger).Log("msg", "value length differs from announced bytes", "line", s.line, "announced", size, "actual", len(value))
		}
		cmd.Value = append([]byte(nil), value...)
		return s.remember(cmd), nil
	}

	s.done = true
	s.forget()
	if err := s.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return protocol.Command{}, fmt.Errorf("trace line %d: %w", s.line+1, err)
		}
		return protocol.Command{}, fmt.Errorf("read trace: %w", err)
	}
	return protocol.Command{}, io.EOF
}

func (s *TraceSource) Rollback() error {
	return s.rollback()
}

// Skipped returns the number of malformed lines ignored so far.
func (s *TraceSource) Skipped() int64 {
	return s.skipped
}
