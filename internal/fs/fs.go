package fs

import (
	"io"
	"os"
	"path/filepath"
)

// File is an open file.
type File interface {
	io.WriteCloser
	Name() string
	Sync() error
}

// FileSystem is the subset of the os package used by the local blob store.
type FileSystem interface {
	CreateTemp(dir, pattern string) (File, error)
	Rename(oldpath, newpath string) error
	Link(oldname, newname string) error
	Remove(name string) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
}

// LocalFS implements FileSystem with the os package.
type LocalFS struct{}

func (LocalFS) CreateTemp(dir, pattern string) (File, error) {
	return os.CreateTemp(dir, pattern)
}

func (LocalFS) Rename(oldpath, newpath string) error  { return os.Rename(oldpath, newpath) }
func (LocalFS) Link(oldname, newname string) error    { return os.Link(oldname, newname) }
func (LocalFS) Remove(name string) error              { return os.Remove(name) }
func (LocalFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (LocalFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Default is the default local file system.
var Default FileSystem = LocalFS{}

// WriteFileAtomic replaces path with data. On error the previous content of
// path, if any, is left in place and the temporary file is removed.
func WriteFileAtomic(fsys FileSystem, path string, data []byte) (err error) {
	tmp, err := writeTemp(fsys, path, data)
	if err != nil {
		return err
	}
	if err = fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
	}
	return err
}

// WriteFileExclusive creates path with data unless it exists, in which case
// it returns an error matching os.ErrExist. The file appears complete or not
// at all.
func WriteFileExclusive(fsys FileSystem, path string, data []byte) error {
	tmp, err := writeTemp(fsys, path, data)
	if err != nil {
		return err
	}
	defer func() { _ = fsys.Remove(tmp) }()
	return fsys.Link(tmp, path)
}

// writeTemp writes data to a synced temporary file next to path and returns
// its name.
func writeTemp(fsys FileSystem, path string, data []byte) (tmp string, err error) {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	f, err := fsys.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp = f.Name()
	defer func() {
		if err != nil {
			_ = fsys.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return "", err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	return tmp, nil
}
