package protocol

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var canonicalResponses = map[Kind][]string{
	GET:     {"END\r\n", "SERVER_ERROR busy\r\n", "what\r\n"},
	ADD:     {"STORED\r\n", "NOT_STORED\r\n", "CLIENT_ERROR bad data chunk\r\n"},
	REPLACE: {"STORED\r\n", "NOT_STORED\r\n", "ERROR\r\n"},
	SET:     {"STORED\r\n", "EXISTS\r\n", "NOT_FOUND\r\n"},
	DELETE:  {"DELETED\r\n", "NOT_FOUND\r\n", "nonsense\r\n"},
}

func buildResponse(kind Kind, choice int, key string, value []byte) []byte {
	if kind == GET && choice%4 == 3 {
		return []byte(fmt.Sprintf("VALUE %s 0 %d\r\n%s\r\nEND\r\n", key, len(value), value))
	}
	options := canonicalResponses[kind]
	return []byte(options[choice%len(options)])
}

func TestProperty_IncrementalFeed(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("byte-at-a-time feeding yields exactly one identical completion", prop.ForAll(
		func(kindIndex, choice int, key string, value []byte) bool {
			kind := Kinds()[kindIndex]
			resp := buildResponse(kind, choice, key, value)

			whole, ok := Parse(resp, kind)
			if !ok || whole.Consumed != len(resp) {
				return false
			}

			var buf []byte
			completions := 0
			for i, b := range resp {
				buf = append(buf, b)
				r, ok := Parse(buf, kind)
				if !ok {
					continue
				}
				completions++
				if i != len(resp)-1 || r != whole {
					return false
				}
			}
			return completions == 1
		},
		gen.IntRange(0, len(Kinds())-1),
		gen.IntRange(0, 11),
		gen.Identifier(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestProperty_RequestRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("encoded request line parses back to the same kind and key", prop.ForAll(
		func(kindIndex int, key string, value string, flags uint32) bool {
			kind := Kinds()[kindIndex]
			cmd := Command{Kind: kind, Key: key}
			if kind.IsStorage() {
				cmd.Flags = flags
				cmd.Value = []byte(value)
			}
			wire := string(AppendRequest(nil, cmd))

			line, rest, found := strings.Cut(wire, CRLF)
			if !found {
				return false
			}
			parsed, size, err := ParseCommandLine(line)
			if err != nil {
				return false
			}
			if parsed.Kind != kind || parsed.Key != key || parsed.Flags != cmd.Flags {
				return false
			}
			if !kind.IsStorage() {
				return rest == ""
			}
			return size == len(value) && rest == value+CRLF
		},
		gen.IntRange(0, len(Kinds())-1),
		gen.Identifier().SuchThat(func(s string) bool { return len(s) <= MaxKeyLength }),
		gen.AlphaString(),
		gen.UInt32(),
	))

	properties.TestingRun(t)
}
