//go:build !linux

package poller

import (
	"errors"
	"time"
)

type Poller struct{}

func New() (*Poller, error) {
	return nil, errors.ErrUnsupported
}

func (p *Poller) Add(fd int) error                            { return errors.ErrUnsupported }
func (p *Poller) Remove(fd int) error                         { return errors.ErrUnsupported }
func (p *Poller) Wait(timeout time.Duration) ([]Event, error) { return nil, errors.ErrUnsupported }
func (p *Poller) Wake() error                                 { return errors.ErrUnsupported }
func (p *Poller) Close() error                                { return nil }
