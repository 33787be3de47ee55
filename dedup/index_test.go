package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hupe1980/slicemap/blobstore"
	"github.com/hupe1980/slicemap/internal/hash"
	"github.com/hupe1980/slicemap/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex_LookupOrInsert(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	d := hash.Content([]byte("node"))
	loc := model.SliceLocation{BlobID: 3, Start: 0, End: 10}

	_, ok, err := idx.Lookup(ctx, d)
	require.NoError(t, err)
	assert.False(t, ok)

	got, found, err := idx.LookupOrInsert(ctx, d, loc)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, loc, got)

	// The first location wins.
	got, found, err = idx.LookupOrInsert(ctx, d, model.SliceLocation{BlobID: 9, Start: 5, End: 15})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, loc, got)

	got, ok, err = idx.Lookup(ctx, d)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, loc, got)
	assert.Equal(t, 1, idx.Len())
}

func TestMemoryIndex_NextBlobID(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	id, err := idx.NextBlobID(ctx)
	require.NoError(t, err)
	assert.Equal(t, FirstBlobID, id)

	id, err = idx.NextBlobID(ctx)
	require.NoError(t, err)
	assert.Equal(t, FirstBlobID+1, id)

	// Inserting a location in a later blob moves the allocator past it.
	_, _, err = idx.LookupOrInsert(ctx, hash.Content([]byte("x")), model.SliceLocation{BlobID: 40})
	require.NoError(t, err)
	id, err = idx.NextBlobID(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BlobID(41), id)
}

func TestMemoryIndex_ConcurrentAllocation(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	const n = 64
	ids := make(chan model.BlobID, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := idx.NextBlobID(ctx)
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[model.BlobID]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate blob id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	idx := NewMemoryIndex()
	for i, s := range []string{"a", "b", "c"} {
		_, _, err := idx.LookupOrInsert(ctx, hash.Content([]byte(s)), model.SliceLocation{
			BlobID: 2, Start: uint64(i * 10), End: uint64(i*10 + 10),
		})
		require.NoError(t, err)
	}
	require.NoError(t, idx.Save(ctx, store, DefaultIndexPath))

	loaded, err := LoadMemoryIndex(ctx, store, DefaultIndexPath)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())

	loc, ok, err := loaded.Lookup(ctx, hash.Content([]byte("b")))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.SliceLocation{BlobID: 2, Start: 10, End: 20}, loc)

	id, err := loaded.NextBlobID(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BlobID(3), id)

	// Encoding is deterministic.
	a, err := idx.MarshalBinary()
	require.NoError(t, err)
	b, err := loaded.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLoadMemoryIndex_Missing(t *testing.T) {
	idx, err := LoadMemoryIndex(context.Background(), blobstore.NewMemoryStore(), DefaultIndexPath)
	require.NoError(t, err)
	assert.Zero(t, idx.Len())
}

func TestMemoryIndex_UnmarshalCorrupt(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	_, _, err := idx.LookupOrInsert(ctx, hash.Content([]byte("a")), model.SliceLocation{BlobID: 1, End: 4})
	require.NoError(t, err)
	data, err := idx.MarshalBinary()
	require.NoError(t, err)

	tests := map[string][]byte{
		"short":     data[:8],
		"truncated": data[:len(data)-1],
		"flipped": func() []byte {
			d := append([]byte(nil), data...)
			d[30] ^= 0xff
			return d
		}(),
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, NewMemoryIndex().UnmarshalBinary(input), ErrCorruptIndex)
		})
	}
}

func TestMemoryIndex_Reserve(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	idx.Reserve(7)
	id, err := idx.NextBlobID(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BlobID(8), id)

	// Reserving below the allocator is a no-op.
	idx.Reserve(2)
	id, err = idx.NextBlobID(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BlobID(9), id)
}

func TestClaimBlobID_SkipsTakenIDs(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	path := func(id model.BlobID) string { return model.NodesPath("repo", model.BlobPath(id)) }
	create := func(data string) func(context.Context, model.BlobID) error {
		return func(ctx context.Context, id model.BlobID) error {
			return blobstore.PutIfAbsent(ctx, store, path(id), []byte(data))
		}
	}

	// Two snapshots of the same index hand out the same ids.
	a, b := NewMemoryIndex(), NewMemoryIndex()

	idA, err := ClaimBlobID(ctx, a, create("a"))
	require.NoError(t, err)
	idB, err := ClaimBlobID(ctx, b, create("b"))
	require.NoError(t, err)
	assert.Equal(t, FirstBlobID, idA)
	assert.Equal(t, FirstBlobID+1, idB)

	data, err := blobstore.ReadAll(ctx, store, path(idA))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
	data, err = blobstore.ReadAll(ctx, store, path(idB))
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))
}

func TestClaimBlobID_Errors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := ClaimBlobID(ctx, NewMemoryIndex(), func(context.Context, model.BlobID) error { return boom })
	assert.ErrorIs(t, err, boom)

	calls := 0
	_, err = ClaimBlobID(ctx, NewMemoryIndex(), func(context.Context, model.BlobID) error {
		calls++
		return blobstore.ErrExists
	})
	assert.ErrorIs(t, err, ErrNoFreeBlobID)
	assert.Equal(t, MaxClaimAttempts, calls)
}
