package workload

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/jsp-lqk/metapipe-replay/internal/protocol"
)

type SyntheticConfig struct {
	KeySpace     int
	KeyPrefix    string
	ValueSize    int
	Seed         uint64
	GetRatio     int
	SetRatio     int
	AddRatio     int
	ReplaceRatio int
	DeleteRatio  int
	TTL          int64
	UseZipf      bool
	ZipfS        float64 // > 1, pulls the power curve toward zero
	ZipfV        float64 // >= 1, the main part of the curve sits below this index
}

var ErrInvalidSynthetic = errors.New("invalid synthetic workload")

// SyntheticSource generates a seeded, reproducible mix of requests over a
// fixed keyspace. It never ends on its own; wrap it with Limit.
type SyntheticSource struct {
	rewind
	conf  SyntheticConfig
	keys  []string
	value []byte
	rng   *rand.Rand
	zipf  *rand.Zipf
	total int
}

func NewSyntheticSource(conf SyntheticConfig) (*SyntheticSource, error) {
	if conf.KeySpace <= 0 {
		return nil, fmt.Errorf("%w: keyspace must be positive", ErrInvalidSynthetic)
	}
	if conf.ValueSize < 0 {
		return nil, fmt.Errorf("%w: negative value size", ErrInvalidSynthetic)
	}
	total := conf.GetRatio + conf.SetRatio + conf.AddRatio + conf.ReplaceRatio + conf.DeleteRatio
	if total <= 0 || conf.GetRatio < 0 || conf.SetRatio < 0 || conf.AddRatio < 0 || conf.ReplaceRatio < 0 || conf.DeleteRatio < 0 {
		return nil, fmt.Errorf("%w: ratios must be non-negative with a positive sum", ErrInvalidSynthetic)
	}

	s := &SyntheticSource{
		conf:  conf,
		keys:  GenerateKeys(conf.KeyPrefix, conf.KeySpace),
		value: GenerateValue(conf.ValueSize),
		rng:   rand.New(rand.NewPCG(conf.Seed, conf.Seed^0x9e3779b97f4a7c15)),
		total: total,
	}
	if conf.UseZipf {
		s.zipf = rand.NewZipf(s.rng, conf.ZipfS, conf.ZipfV, uint64(conf.KeySpace-1))
		if s.zipf == nil {
			return nil, fmt.Errorf("%w: bad zipf parameters s=%f v=%f", ErrInvalidSynthetic, conf.ZipfS, conf.ZipfV)
		}
	}
	return s, nil
}

// GenerateKeys returns the keyspace used by the synthetic workload.
func GenerateKeys(prefix string, n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = prefix + strconv.Itoa(i)
	}
	return keys
}

func GenerateValue(size int) []byte {
	value := make([]byte, size)
	for i := range value {
		value[i] = 'a' + byte(i%26)
	}
	return value
}

func (s *SyntheticSource) Keys() []string {
	return s.keys
}

func (s *SyntheticSource) Next() (protocol.Command, error) {
	if c, ok := s.pending(); ok {
		return c, nil
	}

	var index int
	if s.zipf != nil {
		index = int(s.zipf.Uint64())
	} else {
		index = s.rng.IntN(len(s.keys))
	}
	cmd := protocol.Command{Key: s.keys[index]}

	switch pick := s.rng.IntN(s.total); {
	case pick < s.conf.DeleteRatio:
		cmd.Kind = protocol.DELETE
	case pick < s.conf.DeleteRatio+s.conf.SetRatio:
		cmd.Kind = protocol.SET
	case pick < s.conf.DeleteRatio+s.conf.SetRatio+s.conf.AddRatio:
		cmd.Kind = protocol.ADD
	case pick < s.conf.DeleteRatio+s.conf.SetRatio+s.conf.AddRatio+s.conf.ReplaceRatio:
		cmd.Kind = protocol.REPLACE
	default:
		cmd.Kind = protocol.GET
	}
	if cmd.Kind.IsStorage() {
		cmd.Exptime = s.conf.TTL
		cmd.Value = s.value
	}
	return s.remember(cmd), nil
}

func (s *SyntheticSource) Rollback() error {
	return s.rollback()
}
