package workload

import (
	"io"

	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
)

type limitSource struct {
	src    Source
	remain int64
}

// Limit ends src after n commands. A non-positive n means no limit.
func Limit(src Source, n int64) Source {
	if n <= 0 {
		return src
	}
	return &limitSource{src: src, remain: n}
}

func (l *limitSource) Next() (protocol.Command, error) {
	if l.remain <= 0 {
		return protocol.Command{}, io.EOF
	}
	c, err := l.src.Next()
	if err != nil {
		return c, err
	}
	l.remain--
	return c, nil
}

func (l *limitSource) Rollback() error {
	if err := l.src.Rollback(); err != nil {
		return err
	}
	l.remain++
	return nil
}
