package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	CRLF         = "\r\n"
	MaxKeyLength = 250
)

var (
	ErrUnknownVerb      = errors.New("unknown verb")
	ErrMalformedCommand = errors.New("malformed command")
)

// Command is one request of the replayed workload.
type Command struct {
	Kind    Kind
	Key     string
	Flags   uint32
	Exptime int64
	Value   []byte
}

// AppendRequest appends the wire form of c to dst.
func AppendRequest(dst []byte, c Command) []byte {
	dst = append(dst, c.Kind.String()...)
	dst = append(dst, ' ')
	dst = append(dst, c.Key...)
	if c.Kind.IsStorage() {
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, uint64(c.Flags), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, c.Exptime, 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(len(c.Value)), 10)
		dst = append(dst, CRLF...)
		dst = append(dst, c.Value...)
	}
	return append(dst, CRLF...)
}

// ParseCommandLine parses a request line without its line terminator. For
// storage kinds it also returns the announced value length; the value itself
// follows on the next line and is not part of the result.
func ParseCommandLine(line string) (Command, int, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, 0, fmt.Errorf("%w: empty line", ErrMalformedCommand)
	}
	kind, ok := ParseKind(fields[0])
	if !ok {
		return Command{}, 0, fmt.Errorf("%w: %q", ErrUnknownVerb, fields[0])
	}
	if len(fields) < 2 {
		return Command{}, 0, fmt.Errorf("%w: missing key in %q", ErrMalformedCommand, line)
	}
	c := Command{Kind: kind, Key: fields[1]}
	if len(c.Key) > MaxKeyLength {
		return Command{}, 0, fmt.Errorf("%w: key longer than %d bytes", ErrMalformedCommand, MaxKeyLength)
	}
	if !kind.IsStorage() {
		if len(fields) != 2 {
			return Command{}, 0, fmt.Errorf("%w: unexpected arguments in %q", ErrMalformedCommand, line)
		}
		return c, 0, nil
	}
	if len(fields) != 5 {
		return Command{}, 0, fmt.Errorf("%w: %s expects <key> <flags> <exptime> <bytes>", ErrMalformedCommand, kind)
	}
	flags, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Command{}, 0, fmt.Errorf("%w: flags: %v", ErrMalformedCommand, err)
	}
	exptime, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Command{}, 0, fmt.Errorf("%w: exptime: %v", ErrMalformedCommand, err)
	}
	size, err := strconv.Atoi(fields[4])
	if err != nil || size < 0 {
		return Command{}, 0, fmt.Errorf("%w: bytes %q", ErrMalformedCommand, fields[4])
	}
	c.Flags = uint32(flags)
	c.Exptime = exptime
	return c, size, nil
}
