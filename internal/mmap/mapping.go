package mmap

import (
	"io"
	"os"
	"sync/atomic"
)

// Mapping is a read-only memory mapped file.
type Mapping struct {
	data   []byte
	closed atomic.Bool
	unmap  func([]byte) error
}

// Open maps the file at path.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return &Mapping{}, nil
	}

	data, unmap, err := osMap(f, int(fi.Size()))
	if err != nil {
		return nil, err
	}
	m := &Mapping{data: data, unmap: unmap}
	_ = m.Advise(AccessRandom)
	return m, nil
}

// Close unmaps the file. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Bytes returns the mapped bytes, or nil after Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return len(m.data)
}

// Slice returns the bytes in [start, end). The slice aliases the mapping and
// is valid until Close.
func (m *Mapping) Slice(start, end uint64) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if start > end || end > uint64(len(m.data)) {
		return nil, ErrOutOfBounds
	}
	return m.data[start:end], nil
}

// Advise hints the kernel about the access pattern.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(m.data) == 0 {
		return nil
	}
	return osAdvise(m.data, pattern)
}

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
