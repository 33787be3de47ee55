package manifest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/slicemap/blobstore"
	"github.com/hupe1980/slicemap/compress"
	"github.com/hupe1980/slicemap/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest(build string) *Manifest {
	m := New("github/territory", build)
	m.CreatedAt = time.Unix(1700000000, 42)
	m.RootNodeID = 7
	m.Compression = compress.Zstd
	m.Widths = []uint32{14, 14, 14, 22}
	m.NodeMap = TrieInfo{Root: model.SliceLocation{BlobID: 3, Start: 100, End: 180}, Entries: 1000}
	m.SymMap = TrieInfo{Root: model.SliceLocation{BlobID: 4, Start: 0, End: 60}, Entries: 20}
	m.RefMap = TrieInfo{Root: model.SliceLocation{BlobID: 3, Start: 180, End: 200}, Entries: 1}
	m.Blobs = roaring64.BitmapOf(1, 3, 4, 1<<40)
	return m
}

func TestBinaryRoundTrip(t *testing.T) {
	m := testManifest("b1")

	var buf bytes.Buffer
	require.NoError(t, m.WriteBinary(&buf))

	m2, err := ReadBinary(&buf)
	require.NoError(t, err)
	assert.True(t, m.Equal(m2))
	assert.Equal(t, CurrentVersion, m2.Version)
	assert.Equal(t, []uint64{1, 3, 4, 1 << 40}, m2.Blobs.ToArray())
}

func TestBinary_EmptyBlobSet(t *testing.T) {
	m := New("repo", "b")
	m.Blobs = nil

	data, err := m.MarshalBinary()
	require.NoError(t, err)

	var m2 Manifest
	require.NoError(t, m2.UnmarshalBinary(data))
	require.NotNil(t, m2.Blobs)
	assert.True(t, m2.Blobs.IsEmpty())
	assert.Nil(t, m2.Widths)
	assert.True(t, m.Equal(&m2))
}

func TestBinary_Corrupt(t *testing.T) {
	data, err := testManifest("b1").MarshalBinary()
	require.NoError(t, err)

	t.Run("checksum", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[len(bad)-1] ^= 0xff
		var m Manifest
		assert.ErrorIs(t, m.UnmarshalBinary(bad), ErrChecksum)
	})

	t.Run("version", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[4] = 99
		var m Manifest
		assert.ErrorIs(t, m.UnmarshalBinary(bad), ErrIncompatibleVersion)
	})

	t.Run("magic", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[0] = 'X'
		var m Manifest
		assert.Error(t, m.UnmarshalBinary(bad))
	})

	t.Run("truncated", func(t *testing.T) {
		var m Manifest
		assert.Error(t, m.UnmarshalBinary(data[:len(data)-3]))
		assert.Error(t, m.UnmarshalBinary(data[:8]))

		_, err := ReadBinary(bytes.NewReader(data[:len(data)-3]))
		assert.Error(t, err)
	})
}

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	s := NewStore(bs)

	m := testManifest("b1")
	require.NoError(t, s.Save(ctx, m))

	_, err := bs.Open(ctx, "builds/github/territory/b1")
	require.NoError(t, err)

	loaded, err := s.Load(ctx, "github/territory", "b1")
	require.NoError(t, err)
	assert.True(t, m.Equal(loaded))

	// Manifests are immutable.
	err = s.Save(ctx, testManifest("b1"))
	assert.ErrorIs(t, err, ErrBuildExists)

	_, err = s.Load(ctx, "github/territory", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Current(t *testing.T) {
	ctx := context.Background()
	s := NewStore(blobstore.NewMemoryStore())
	const repo = "github/territory"

	_, err := s.Current(ctx, repo)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LoadCurrent(ctx, repo)
	assert.ErrorIs(t, err, ErrNotFound)

	// The pointer only moves to builds that exist.
	assert.ErrorIs(t, s.SetCurrent(ctx, repo, "b1"), ErrNotFound)

	require.NoError(t, s.Save(ctx, testManifest("b1")))
	require.NoError(t, s.Save(ctx, testManifest("b2")))
	require.NoError(t, s.SetCurrent(ctx, repo, "b1"))
	require.NoError(t, s.SetCurrent(ctx, repo, "b2"))

	build, err := s.Current(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "b2", build)

	m, err := s.LoadCurrent(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "b2", m.Build)
}

func TestStore_ListDelete(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	s := NewStore(bs)
	const repo = "github/territory"

	for _, b := range []string{"b2", "b1", "b3"} {
		require.NoError(t, s.Save(ctx, testManifest(b)))
	}
	nested := testManifest("x")
	nested.Repo = repo + "/nested"
	require.NoError(t, s.Save(ctx, nested))
	require.NoError(t, s.SetCurrent(ctx, repo, "b3"))

	builds, err := s.List(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2", "b3"}, builds)

	assert.ErrorIs(t, s.Delete(ctx, repo, "b3"), ErrCurrentBuild)
	require.NoError(t, s.Delete(ctx, repo, "b1"))

	builds, err = s.List(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, []string{"b2", "b3"}, builds)
}

func TestStore_LiveBlobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore(blobstore.NewMemoryStore())

	a := testManifest("a")
	a.Blobs = roaring64.BitmapOf(1, 2)
	b := testManifest("b")
	b.Blobs = roaring64.BitmapOf(2, 5)
	require.NoError(t, s.Save(ctx, a))
	require.NoError(t, s.Save(ctx, b))

	live, err := s.LiveBlobs(ctx, a.Repo)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 5}, live.ToArray())
}

func TestStore_InvalidNames(t *testing.T) {
	ctx := context.Background()
	s := NewStore(blobstore.NewMemoryStore())

	for _, build := range []string{"", CurrentFileName, "a/b", ".."} {
		assert.ErrorIs(t, s.Save(ctx, New("repo", build)), ErrInvalidName, "build %q", build)
	}
	for _, repo := range []string{"", "/abs", "trailing/", "a//b", "a/../b"} {
		_, err := s.Load(ctx, repo, "b")
		assert.ErrorIs(t, err, ErrInvalidName, "repo %q", repo)
	}
}
