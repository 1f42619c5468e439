package protocol

import (
	"bytes"
	"strconv"
)

// MaxValueLength bounds the payload length accepted from a VALUE header.
const MaxValueLength = 1 << 30

// Outcome classifies one complete response.
type Outcome uint8

const (
	Stored Outcome = iota
	NotStored
	Exists
	Deleted
	NotFound
	Found
	Miss
	ServerError
	Malformed
)

var outcomeLabels = [...]string{
	Stored:      "STORED",
	NotStored:   "NOT_STORED",
	Exists:      "EXISTS",
	Deleted:     "DELETED",
	NotFound:    "NOT_FOUND",
	Found:       "FOUND (VALUE)",
	Miss:        "NOT_FOUND (END)",
	ServerError: "SERVER/CLIENT_ERROR",
	Malformed:   "MALFORMED",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeLabels) {
		return outcomeLabels[o]
	}
	return "UNKNOWN"
}

// Success reports whether the outcome counts towards latency statistics.
func (o Outcome) Success() bool {
	return o == Stored || o == Deleted || o == Found
}

type Response struct {
	Outcome  Outcome
	Consumed int
	ValueLen int
}

var (
	crlf        = []byte(CRLF)
	endMarker   = []byte("END\r\n")
	valuePrefix = []byte("VALUE ")
	serverError = []byte("SERVER_ERROR")
	clientError = []byte("CLIENT_ERROR")
)

// Parse classifies the response at the start of buf for a request of the
// given kind. It returns false if buf does not yet hold a complete response,
// in which case nothing may be consumed. A complete line that matches nothing
// expected for kind is reported as Malformed and consumes exactly that line.
func Parse(buf []byte, kind Kind) (Response, bool) {
	eol := bytes.Index(buf, crlf)
	if eol < 0 {
		return Response{}, false
	}
	line := buf[:eol]
	lineLen := eol + len(crlf)

	if isErrorLine(line) {
		return Response{Outcome: ServerError, Consumed: lineLen}, true
	}

	switch kind {
	case GET:
		return parseRetrieval(buf, line, lineLen)
	case DELETE:
		switch string(line) {
		case "DELETED":
			return Response{Outcome: Deleted, Consumed: lineLen}, true
		case "NOT_FOUND":
			return Response{Outcome: NotFound, Consumed: lineLen}, true
		}
	case ADD, REPLACE, SET:
		switch string(line) {
		case "STORED":
			return Response{Outcome: Stored, Consumed: lineLen}, true
		case "NOT_STORED":
			return Response{Outcome: NotStored, Consumed: lineLen}, true
		case "EXISTS":
			return Response{Outcome: Exists, Consumed: lineLen}, true
		case "NOT_FOUND":
			return Response{Outcome: NotFound, Consumed: lineLen}, true
		}
	}
	return Response{Outcome: Malformed, Consumed: lineLen}, true
}

func parseRetrieval(buf, line []byte, lineLen int) (Response, bool) {
	if string(line) == "END" {
		return Response{Outcome: Miss, Consumed: lineLen}, true
	}
	if !bytes.HasPrefix(line, valuePrefix) {
		return Response{Outcome: Malformed, Consumed: lineLen}, true
	}
	// VALUE <key> <flags> <bytes> [<cas unique>]
	fields := bytes.Fields(line)
	if len(fields) < 4 || len(fields) > 5 {
		return Response{Outcome: Malformed, Consumed: lineLen}, true
	}
	size, err := strconv.Atoi(string(fields[3]))
	if err != nil || size < 0 || size > MaxValueLength {
		return Response{Outcome: Malformed, Consumed: lineLen}, true
	}

	dataEnd := lineLen + size
	total := dataEnd + len(crlf) + len(endMarker)
	if len(buf) < total {
		return Response{}, false
	}
	if !bytes.Equal(buf[dataEnd:dataEnd+len(crlf)], crlf) || !bytes.Equal(buf[dataEnd+len(crlf):total], endMarker) {
		return Response{Outcome: Malformed, Consumed: lineLen}, true
	}
	return Response{Outcome: Found, Consumed: total, ValueLen: size}, true
}

func isErrorLine(line []byte) bool {
	return string(line) == "ERROR" || bytes.HasPrefix(line, serverError) || bytes.HasPrefix(line, clientError)
}
