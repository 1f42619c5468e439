package timescale

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFactor(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "scale_factor")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o444))
	return path
}

func TestRead(t *testing.T) {
	f, err := Read(writeFactor(t, "2500\n"))
	require.NoError(t, err)
	assert.Equal(t, Factor(2500), f)
	assert.Equal(t, 25*time.Millisecond, f.Scale(10*time.Millisecond))
	assert.Equal(t, "2.500x", f.String())
}

func TestReadMissingFile(t *testing.T) {
	f, err := Read(filepath.Join(t.TempDir(), "absent"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, Identity, f)
	assert.Equal(t, time.Second, f.Scale(time.Second))
}

func TestReadInvalid(t *testing.T) {
	for _, content := range []string{"fast", "0", "-3", ""} {
		f, err := Read(writeFactor(t, content))
		assert.True(t, errors.Is(err, ErrInvalidFactor), content)
		assert.Equal(t, Identity, f)
	}
}
