//go:build !linux

package transport

import "errors"

type Socket struct{}

func Dial(network, address string) (*Socket, error) {
	return nil, errors.ErrUnsupported
}

func Pair() (*Socket, *Socket, error) {
	return nil, nil, errors.ErrUnsupported
}

func (s *Socket) Fd() int                     { return -1 }
func (s *Socket) String() string              { return "" }
func (s *Socket) Read(p []byte) (int, error)  { return 0, errors.ErrUnsupported }
func (s *Socket) Write(p []byte) (int, error) { return 0, errors.ErrUnsupported }
func (s *Socket) Close() error                { return nil }
