package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("fs: injected fault")

// Fault describes how operations on matching files fail.
type Fault struct {
	FailOnWrite  bool
	FailOnSync   bool
	FailOnRename bool // also fails Link
	Err          error
}

// FaultyFS is a FileSystem wrapper that can inject errors.
type FaultyFS struct {
	FS    FileSystem
	mu    sync.Mutex
	rules map[string]Fault // name substring -> fault
}

// NewFaultyFS wraps fsys (or Default if nil).
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{FS: fsys, rules: make(map[string]Fault)}
}

// AddRule injects fault into every file whose path contains pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.rules[pattern] = fault
}

func (f *FaultyFS) faultFor(name string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			return rule, true
		}
	}
	return Fault{}, false
}

func (f *FaultyFS) CreateTemp(dir, pattern string) (File, error) {
	file, err := f.FS.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	fault, _ := f.faultFor(file.Name())
	return &faultyFile{File: file, fault: fault}, nil
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if fault, ok := f.faultFor(newpath); ok && fault.FailOnRename {
		return fault.Err
	}
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Link(oldname, newname string) error {
	if fault, ok := f.faultFor(newname); ok && fault.FailOnRename {
		return fault.Err
	}
	return f.FS.Link(oldname, newname)
}

func (f *FaultyFS) Remove(name string) error              { return f.FS.Remove(name) }
func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }
func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}

type faultyFile struct {
	File
	fault Fault
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if ff.fault.FailOnWrite {
		return 0, ff.fault.Err
	}
	return ff.File.Write(p)
}

func (ff *faultyFile) Sync() error {
	if ff.fault.FailOnSync {
		return ff.fault.Err
	}
	return ff.File.Sync()
}
