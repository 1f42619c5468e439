package workload

import (
	"io"

	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
)

// FixedSource issues the same request on one key. Storage requests change
// the first value byte on every fresh command so consecutive writes differ.
type FixedSource struct {
	rewind
	cmd    protocol.Command
	remain int64
	limit  bool
}

// NewFixedSource returns count commands; a non-positive count never ends.
func NewFixedSource(kind protocol.Kind, key string, value []byte, count int64) *FixedSource {
	cmd := protocol.Command{Kind: kind, Key: key}
	if kind.IsStorage() {
		cmd.Value = append([]byte(nil), value...)
	}
	return &FixedSource{cmd: cmd, remain: count, limit: count > 0}
}

func (s *FixedSource) Next() (protocol.Command, error) {
	if c, ok := s.pending(); ok {
		return c, nil
	}
	if s.limit {
		if s.remain <= 0 {
			s.forget()
			return protocol.Command{}, io.EOF
		}
		s.remain--
	}
	if len(s.cmd.Value) > 0 {
		s.cmd.Value[0]++
	}
	return s.remember(s.cmd), nil
}

func (s *FixedSource) Rollback() error {
	return s.rollback()
}
