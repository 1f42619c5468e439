//go:build linux

package transport

import (
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// Socket is a non-blocking stream socket owned outside the Go runtime poller.
type Socket struct {
	fd     int
	remote string
}

// Dial connects with a blocking connect, then switches the socket to
// non-blocking mode for the event loop.
func Dial(network, address string) (*Socket, error) {
	domain, sa, err := sockaddr(network, address)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	for {
		err = unix.Connect(fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to connect to %s - %w", address, err)
	}
	if domain != unix.AF_UNIX {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("set TCP_NODELAY: %w", err)
		}
	}
	return FromFd(fd, address)
}

// FromFd adopts an already connected socket.
func FromFd(fd int, remote string) (*Socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}
	return &Socket{fd: fd, remote: remote}, nil
}

// Pair returns two connected sockets. Used for tests and in-process servers.
func Pair() (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	a, err := FromFd(fds[0], "pair:0")
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := FromFd(fds[1], "pair:1")
	if err != nil {
		a.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return a, b, nil
}

func sockaddr(network, address string) (int, unix.Sockaddr, error) {
	switch network {
	case "unix":
		return unix.AF_UNIX, &unix.SockaddrUnix{Name: address}, nil
	case "tcp":
		addr, err := net.ResolveTCPAddr("tcp", address)
		if err != nil {
			return 0, nil, fmt.Errorf("resolve %s: %w", address, err)
		}
		if ip4 := addr.IP.To4(); ip4 != nil {
			sa := &unix.SockaddrInet4{Port: addr.Port}
			copy(sa.Addr[:], ip4)
			return unix.AF_INET, sa, nil
		}
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], addr.IP.To16())
		return unix.AF_INET6, sa, nil
	default:
		return 0, nil, fmt.Errorf("unsupported network %q", network)
	}
}

func (s *Socket) Fd() int { return s.fd }

func (s *Socket) String() string { return s.remote }

// Read returns io.EOF when the peer has closed the connection and
// ErrWouldBlock when no data is currently available.
func (s *Socket) Read(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, err
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes as much of p as the kernel accepts. A short write is reported
// as ErrWouldBlock together with the number of bytes accepted.
func (s *Socket) Write(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(s.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return written, ErrWouldBlock
		case err != nil:
			return written, err
		}
	}
	return written, nil
}

func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
