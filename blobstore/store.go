package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = os.ErrNotExist

// ErrOutOfRange is returned when a requested range exceeds the blob.
var ErrOutOfRange = errors.New("blobstore: range out of bounds")

// ErrExists is returned by PutIfAbsent when the blob is already present.
var ErrExists = errors.New("blobstore: blob already exists")

// Store is a flat namespace of immutable blobs.
type Store interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Put writes a blob atomically, replacing any blob of the same name.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names of all blobs starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a blob.
type Blob interface {
	// ReadAt reads len(p) bytes at off. It returns io.EOF when fewer bytes
	// are available.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// Size returns the size of the blob in bytes.
	Size() int64
	io.Closer
}

// Mappable is implemented by blobs that can expose their bytes without
// copying.
type Mappable interface {
	// Bytes returns the underlying byte slice, valid until the Blob is closed.
	Bytes() ([]byte, error)
}

// ConditionalStore is implemented by stores that can create a blob only if
// it does not exist yet, in a single atomic step.
type ConditionalStore interface {
	PutIfAbsent(ctx context.Context, name string, data []byte) error
}

var (
	_ ConditionalStore = (*MemoryStore)(nil)
	_ ConditionalStore = (*LocalStore)(nil)
	_ ConditionalStore = (*CachingStore)(nil)
)

// PutIfAbsent writes name only if no blob of that name exists. Stores that do
// not implement ConditionalStore get a check-then-put, which is racy across
// processes.
func PutIfAbsent(ctx context.Context, s Store, name string, data []byte) error {
	if cs, ok := s.(ConditionalStore); ok {
		return cs.PutIfAbsent(ctx, name, data)
	}
	b, err := s.Open(ctx, name)
	switch {
	case err == nil:
		_ = b.Close()
		return fmt.Errorf("%w: %s", ErrExists, name)
	case !errors.Is(err, ErrNotFound):
		return err
	}
	return s.Put(ctx, name, data)
}

// ReadRange returns the bytes [start, end) of blob name.
func ReadRange(ctx context.Context, s Store, name string, start, end uint64) ([]byte, error) {
	if start > end {
		return nil, fmt.Errorf("%w: %s[%d:%d]", ErrOutOfRange, name, start, end)
	}
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	if end > uint64(b.Size()) {
		return nil, fmt.Errorf("%w: %s[%d:%d] of %d bytes", ErrOutOfRange, name, start, end, b.Size())
	}
	return readBlob(ctx, b, int64(start), int64(end-start))
}

// ReadAll returns the complete content of blob name.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	return readBlob(ctx, b, 0, b.Size())
}

func readBlob(ctx context.Context, b Blob, off, n int64) ([]byte, error) {
	if m, ok := b.(Mappable); ok {
		data, err := m.Bytes()
		if err == nil {
			// The mapping dies with the blob; hand out a copy.
			return append([]byte(nil), data[off:off+n]...), nil
		}
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	read, err := b.ReadAt(ctx, buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && int64(read) == n) {
		return nil, err
	}
	return buf, nil
}
