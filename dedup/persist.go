package dedup

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/slicemap/blobstore"
	"github.com/hupe1980/slicemap/internal/hash"
	"github.com/hupe1980/slicemap/model"
)

// DefaultIndexPath is the blob name the index is persisted under.
const DefaultIndexPath = "dedup/index.bin"

const (
	indexMagic   uint32 = 0x58444d53 // "SMDX"
	indexVersion uint16 = 1

	indexHeaderSize = 4 + 2 + 8 + 8
	indexEntrySize  = hash.Size + 8 + 8 + 8
)

// ErrCorruptIndex is returned when a persisted index fails validation.
var ErrCorruptIndex = errors.New("dedup: corrupt index")

// MarshalBinary encodes the index. Entries are sorted by digest so the output
// is deterministic.
func (m *MemoryIndex) MarshalBinary() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	digests := make([]hash.Digest, 0, len(m.entries))
	for d := range m.entries {
		digests = append(digests, d)
	}
	slices.SortFunc(digests, func(a, b hash.Digest) int { return bytes.Compare(a[:], b[:]) })

	buf := make([]byte, 0, indexHeaderSize+len(digests)*indexEntrySize+4)
	buf = binary.LittleEndian.AppendUint32(buf, indexMagic)
	buf = binary.LittleEndian.AppendUint16(buf, indexVersion)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.nextBlob))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(digests)))
	for _, d := range digests {
		loc := m.entries[d]
		buf = append(buf, d[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(loc.BlobID))
		buf = binary.LittleEndian.AppendUint64(buf, loc.Start)
		buf = binary.LittleEndian.AppendUint64(buf, loc.End)
	}
	return hash.AppendCRC32C(buf), nil
}

// UnmarshalBinary replaces the contents of the index with data.
func (m *MemoryIndex) UnmarshalBinary(data []byte) error {
	if len(data) < indexHeaderSize+4 {
		return fmt.Errorf("%w: short header", ErrCorruptIndex)
	}
	body, err := hash.VerifyCRC32C(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptIndex, err)
	}
	if magic := binary.LittleEndian.Uint32(body[0:]); magic != indexMagic {
		return fmt.Errorf("%w: bad magic %#x", ErrCorruptIndex, magic)
	}
	if v := binary.LittleEndian.Uint16(body[4:]); v != indexVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, v)
	}
	nextBlob := model.BlobID(binary.LittleEndian.Uint64(body[6:]))
	count := binary.LittleEndian.Uint64(body[14:])
	rest := body[indexHeaderSize:]
	if uint64(len(rest)) != count*indexEntrySize {
		return fmt.Errorf("%w: %d bytes for %d entries", ErrCorruptIndex, len(rest), count)
	}

	entries := make(map[hash.Digest]model.SliceLocation, count)
	for len(rest) > 0 {
		var d hash.Digest
		copy(d[:], rest[:hash.Size])
		p := rest[hash.Size:]
		entries[d] = model.SliceLocation{
			BlobID: model.BlobID(binary.LittleEndian.Uint64(p[0:])),
			Start:  binary.LittleEndian.Uint64(p[8:]),
			End:    binary.LittleEndian.Uint64(p[16:]),
		}
		rest = rest[indexEntrySize:]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
	m.nextBlob = max(nextBlob, FirstBlobID)
	return nil
}

// Save writes the index to store under name.
func (m *MemoryIndex) Save(ctx context.Context, store blobstore.Store, name string) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	return store.Put(ctx, name, data)
}

// LoadMemoryIndex reads an index saved with Save. A missing blob yields an
// empty index.
func LoadMemoryIndex(ctx context.Context, store blobstore.Store, name string) (*MemoryIndex, error) {
	idx := NewMemoryIndex()
	data, err := blobstore.ReadAll(ctx, store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return idx, nil
		}
		return nil, err
	}
	if err := idx.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return idx, nil
}
