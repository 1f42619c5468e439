// Package mctest runs a small in-process memcached speaking the text protocol
// subset the engine replays. It is meant for tests only.
package mctest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
)

type item struct {
	flags uint32
	value []byte
}

// Server stores items in memory and logs every command line it receives.
type Server struct {
	ln net.Listener

	mu       sync.Mutex
	items    map[string]item
	commands []string
	conns    map[net.Conn]struct{}

	wg sync.WaitGroup
}

// Start listens on network/address ("tcp" with "127.0.0.1:0", or "unix" with
// a socket path) and serves until Close.
func Start(network, address string) (*Server, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:    ln,
		items: make(map[string]item),
		conns: make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

// Target is the address in the form the replay CLI accepts.
func (s *Server) Target() string {
	addr := s.ln.Addr()
	if addr.Network() == "unix" {
		return "unix:" + addr.String()
	}
	return addr.String()
}

func (s *Server) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// Commands returns the command lines received so far, across connections.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Get returns a stored value.
func (s *Server) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	return it.value, ok
}

// Set stores a value directly, bypassing the protocol.
func (s *Server) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = item{value: value}
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.Close()
	}()

	r := bufio.NewReader(c)
	w := bufio.NewWriter(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		reply, err := s.handle(strings.TrimRight(line, "\r\n"), r)
		if err != nil {
			return
		}
		if _, err := w.WriteString(reply); err != nil {
			return
		}
		// Only flush once the pipeline is drained, as a real server batches.
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handle(line string, r *bufio.Reader) (string, error) {
	s.mu.Lock()
	s.commands = append(s.commands, line)
	s.mu.Unlock()

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERROR\r\n", nil
	}
	switch fields[0] {
	case "get":
		if len(fields) != 2 {
			return "CLIENT_ERROR bad command line format\r\n", nil
		}
		s.mu.Lock()
		it, ok := s.items[fields[1]]
		s.mu.Unlock()
		if !ok {
			return "END\r\n", nil
		}
		return fmt.Sprintf("VALUE %s %d %d\r\n%s\r\nEND\r\n", fields[1], it.flags, len(it.value), it.value), nil
	case "delete":
		if len(fields) != 2 {
			return "CLIENT_ERROR bad command line format\r\n", nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.items[fields[1]]; !ok {
			return "NOT_FOUND\r\n", nil
		}
		delete(s.items, fields[1])
		return "DELETED\r\n", nil
	case "set", "add", "replace":
		return s.store(fields, r)
	default:
		return "ERROR\r\n", nil
	}
}

func (s *Server) store(fields []string, r *bufio.Reader) (string, error) {
	if len(fields) != 5 {
		return "CLIENT_ERROR bad command line format\r\n", nil
	}
	flags, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return "CLIENT_ERROR bad command line format\r\n", nil
	}
	size, err := strconv.Atoi(fields[4])
	if err != nil || size < 0 {
		return "CLIENT_ERROR bad data chunk\r\n", nil
	}
	data := make([]byte, size+2)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	if data[size] != '\r' || data[size+1] != '\n' {
		return "", errors.New("bad data chunk")
	}

	key := fields[1]
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.items[key]
	switch {
	case fields[0] == "add" && exists:
		return "NOT_STORED\r\n", nil
	case fields[0] == "replace" && !exists:
		return "NOT_STORED\r\n", nil
	}
	s.items[key] = item{flags: uint32(flags), value: data[:size]}
	return "STORED\r\n", nil
}
