// Package seed creates and removes benchmark keys before and after a run.
// It uses an ordinary blocking client and is never on the replay hot path.
package seed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jsp-lqk/metapipe-replay/router"
)

// Result is what a seed operation found on the server. Unknown is returned
// with transport errors, when the server's state could not be observed.
type Result int

const (
	Unknown Result = iota
	Stored
	Existed
	Deleted
	Missing
)

func (r Result) String() string {
	switch r {
	case Stored:
		return "stored"
	case Existed:
		return "existed"
	case Deleted:
		return "deleted"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

var ErrKeyExists = errors.New("key already exists")

// selector places keys the way the replay engine does, so seeded keys end up
// on the server the benchmark later reads them from.
type selector struct {
	addrs  []net.Addr
	router router.Router
}

func (s *selector) PickServer(key string) (net.Addr, error) {
	return s.addrs[s.router.Route(key)], nil
}

func (s *selector) Each(f func(net.Addr) error) error {
	for _, a := range s.addrs {
		if err := f(a); err != nil {
			return err
		}
	}
	return nil
}

type Seeder struct {
	client *memcache.Client
	logger log.Logger
}

// New connects to targets ("host:port" or "unix:/path"), routing keys with r.
func New(targets []string, r router.Router, timeout time.Duration, logger log.Logger) (*Seeder, error) {
	if len(targets) == 0 {
		return nil, errors.New("seed: no targets")
	}
	if r.Size() != len(targets) {
		return nil, fmt.Errorf("seed: router has %d shards for %d targets", r.Size(), len(targets))
	}
	sel := &selector{router: r}
	for _, target := range targets {
		var (
			addr net.Addr
			err  error
		)
		if path, ok := strings.CutPrefix(target, "unix:"); ok {
			addr, err = net.ResolveUnixAddr("unix", path)
		} else {
			addr, err = net.ResolveTCPAddr("tcp", target)
		}
		if err != nil {
			return nil, fmt.Errorf("seed: resolve %s: %w", target, err)
		}
		sel.addrs = append(sel.addrs, addr)
	}

	client := memcache.NewFromSelector(sel)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &Seeder{client: client, logger: logger}, nil
}

// Add stores key only if it does not exist yet.
func (s *Seeder) Add(key string, value []byte) (Result, error) {
	err := s.client.Add(&memcache.Item{Key: key, Value: value})
	switch {
	case err == nil:
		level.Debug(s.logger).Log("msg", "seeded key", "key", key)
		return Stored, nil
	case errors.Is(err, memcache.ErrNotStored):
		return Existed, fmt.Errorf("seed %q: %w", key, ErrKeyExists)
	default:
		return Unknown, fmt.Errorf("seed %q: %w", key, err)
	}
}

// Delete removes key. A key that is already gone is not an error.
func (s *Seeder) Delete(key string) (Result, error) {
	err := s.client.Delete(key)
	switch {
	case err == nil:
		return Deleted, nil
	case errors.Is(err, memcache.ErrCacheMiss):
		level.Info(s.logger).Log("msg", "key already gone", "key", key)
		return Missing, nil
	default:
		return Unknown, fmt.Errorf("delete %q: %w", key, err)
	}
}

// Warm sets every key to value, stopping early if ctx is done.
func (s *Seeder) Warm(ctx context.Context, keys []string, value []byte) error {
	start := time.Now()
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.client.Set(&memcache.Item{Key: key, Value: value}); err != nil {
			return fmt.Errorf("warm %q: %w", key, err)
		}
		if (i+1)%10000 == 0 {
			level.Debug(s.logger).Log("msg", "warming", "done", i+1, "total", len(keys))
		}
	}
	level.Info(s.logger).Log("msg", "keyspace warmed", "keys", len(keys), "took", time.Since(start))
	return nil
}
