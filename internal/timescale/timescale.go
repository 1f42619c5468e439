// Package timescale reads the sleep scaling knob exported by the time-scaler
// kernel module. The file holds an integer where 1000 means 1.0x.
package timescale

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPath = "/sys/kernel/time_scaler/scale_factor"
	Unit        = 1000
)

// Factor is a scaling multiplier in thousandths.
type Factor int64

// Identity leaves durations untouched.
const Identity Factor = Unit

var ErrInvalidFactor = errors.New("invalid scale factor")

// Read parses the factor from path. A missing file yields Identity together
// with an error wrapping fs.ErrNotExist, so callers can warn and carry on.
func Read(path string) (Factor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Identity, err
		}
		return Identity, fmt.Errorf("read %s: %w", path, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return Identity, fmt.Errorf("%w: %q", ErrInvalidFactor, strings.TrimSpace(string(raw)))
	}
	if v <= 0 {
		return Identity, fmt.Errorf("%w: %d", ErrInvalidFactor, v)
	}
	return Factor(v), nil
}

func (f Factor) Scale(d time.Duration) time.Duration {
	return d * time.Duration(f) / Unit
}

func (f Factor) String() string {
	return strconv.FormatFloat(float64(f)/Unit, 'f', 3, 64) + "x"
}
