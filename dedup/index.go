package dedup

import (
	"context"
	"sync"

	"github.com/hupe1980/slicemap/internal/hash"
	"github.com/hupe1980/slicemap/model"
)

// FirstBlobID is the first blob id handed out by an empty index. Blob id 0 is
// reserved for single-blob builds.
const FirstBlobID model.BlobID = 1

// Index is a content-addressed location index. Implementations must be safe
// for concurrent use.
type Index interface {
	// Lookup returns the location recorded for digest.
	Lookup(ctx context.Context, digest hash.Digest) (model.SliceLocation, bool, error)

	// LookupOrInsert returns the location already recorded for digest with
	// found=true, or records loc and returns found=false.
	LookupOrInsert(ctx context.Context, digest hash.Digest, loc model.SliceLocation) (existing model.SliceLocation, found bool, err error)

	// NextBlobID allocates a fresh blob id.
	NextBlobID(ctx context.Context) (model.BlobID, error)
}

// MemoryIndex is an in-process Index. It can be persisted with Save and
// restored with Load.
type MemoryIndex struct {
	mu       sync.RWMutex
	entries  map[hash.Digest]model.SliceLocation
	nextBlob model.BlobID
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		entries:  make(map[hash.Digest]model.SliceLocation),
		nextBlob: FirstBlobID,
	}
}

// Lookup implements Index.
func (m *MemoryIndex) Lookup(_ context.Context, digest hash.Digest) (model.SliceLocation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.entries[digest]
	return loc, ok, nil
}

// LookupOrInsert implements Index.
func (m *MemoryIndex) LookupOrInsert(_ context.Context, digest hash.Digest, loc model.SliceLocation) (model.SliceLocation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[digest]; ok {
		return existing, true, nil
	}
	m.entries[digest] = loc
	if loc.BlobID >= m.nextBlob {
		m.nextBlob = loc.BlobID + 1
	}
	return loc, false, nil
}

// NextBlobID implements Index.
func (m *MemoryIndex) NextBlobID(_ context.Context) (model.BlobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextBlob
	m.nextBlob++
	return id, nil
}

// Reserve makes NextBlobID hand out ids above id.
func (m *MemoryIndex) Reserve(id model.BlobID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id >= m.nextBlob {
		m.nextBlob = id + 1
	}
}

// Len returns the number of recorded digests.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
