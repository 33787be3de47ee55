package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestMapping_OpenReadClose(t *testing.T) {
	content := []byte("Hello, Mmap!")
	m, err := Open(writeTemp(t, content))
	require.NoError(t, err)

	assert.Equal(t, len(content), m.Size())
	assert.Equal(t, content, m.Bytes())

	buf := make([]byte, 5)
	n, err := m.ReadAt(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "Mmap!", string(buf))

	n, err = m.ReadAt(make([]byte, 10), 100)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)

	buf3 := make([]byte, 10)
	n, err = m.ReadAt(buf3, 7)
	assert.Equal(t, 5, n)
	assert.Equal(t, io.EOF, err)

	_, err = m.ReadAt(buf, -1)
	assert.Equal(t, ErrInvalidOffset, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "close is idempotent")
	assert.Nil(t, m.Bytes())
	_, err = m.ReadAt(buf, 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Advise(AccessSequential), ErrClosed)
}

func TestMapping_Slice(t *testing.T) {
	m, err := Open(writeTemp(t, []byte("0123456789")))
	require.NoError(t, err)
	defer m.Close()

	s, err := m.Slice(2, 5)
	require.NoError(t, err)
	assert.Equal(t, "234", string(s))

	s, err = m.Slice(10, 10)
	require.NoError(t, err)
	assert.Empty(t, s)

	_, err = m.Slice(5, 2)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = m.Slice(0, 11)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	for _, p := range []AccessPattern{AccessDefault, AccessSequential, AccessRandom, AccessWillNeed} {
		assert.NoError(t, m.Advise(p))
	}
}

func TestMapping_EmptyFile(t *testing.T) {
	m, err := Open(writeTemp(t, nil))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 0, m.Size())
	_, err = m.Slice(0, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestMapping_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
