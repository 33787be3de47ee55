package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	ifs "github.com/hupe1980/slicemap/internal/fs"
	"github.com/hupe1980/slicemap/internal/mmap"
)

// LocalStore implements Store on a directory of the local file system. Blob
// names map to relative paths below the root.
type LocalStore struct {
	root string
	fsys ifs.FileSystem
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithFileSystem replaces the file system used for writes.
func WithFileSystem(fsys ifs.FileSystem) LocalOption {
	return func(s *LocalStore) {
		s.fsys = fsys
	}
}

// NewLocalStore creates a new LocalStore rooted at the given directory.
func NewLocalStore(root string, opts ...LocalOption) *LocalStore {
	s := &LocalStore{root: root, fsys: ifs.Default}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the root directory.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Open maps the blob into memory.
func (s *LocalStore) Open(ctx context.Context, name string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := mmap.Open(s.path(name))
	if err != nil {
		return nil, err
	}
	return &localBlob{m: m}, nil
}

// Put writes the blob through a temporary file and a rename.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ifs.WriteFileAtomic(s.fsys, s.path(name), data)
}

// PutIfAbsent writes the blob only if no blob of that name exists. The blob is
// linked into place, so concurrent writers of one name see exactly one win.
func (s *LocalStore) PutIfAbsent(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := ifs.WriteFileExclusive(s.fsys, s.path(name), data)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	return err
}

// Delete removes the blob.
func (s *LocalStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.fsys.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// List walks the directory tree below the prefix.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			// Skip directories that cannot contain a match.
			if rel != "." && !strings.HasPrefix(rel+"/", prefix) && !strings.HasPrefix(prefix, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

type localBlob struct {
	m *mmap.Mapping
}

func (b *localBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := b.m.ReadAt(p, off)
	if errors.Is(err, mmap.ErrInvalidOffset) {
		return 0, io.EOF
	}
	return n, err
}

func (b *localBlob) Close() error {
	return b.m.Close()
}

func (b *localBlob) Size() int64 {
	return int64(b.m.Size())
}

func (b *localBlob) Bytes() ([]byte, error) {
	if data := b.m.Bytes(); data != nil || b.m.Size() == 0 {
		return data, nil
	}
	return nil, mmap.ErrClosed
}
