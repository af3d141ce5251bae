package encode

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempPath(t *testing.T) {
	p := tempPath("/out/clip.gif")
	assert.Equal(t, "/out", filepath.Dir(p))
	assert.True(t, strings.HasPrefix(filepath.Base(p), ".clip.gif."), p)
	assert.True(t, strings.HasSuffix(p, ".tmp"), p)
	assert.NotEqual(t, p, tempPath("/out/clip.gif"))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.gif")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	require.NoError(t, writeFile(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "new")
		return err
	}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFileError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.gif")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	errFail := errors.New("fail")
	err := writeFile(path, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return errFail
	})
	assert.ErrorIs(t, err, errFail)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
