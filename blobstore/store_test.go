package blobstore

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hupe1980/slicemap/internal/cache"
	ifs "github.com/hupe1980/slicemap/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemoryStore(),
		"local":  NewLocalStore(t.TempDir()),
		"caching": NewCachingStore(NewMemoryStore(),
			cache.NewLRUBlockCache(1<<20, nil), 4),
	}
}

func TestStore_Conformance(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "nodes/repo/f/1", []byte("hello, slicemap")))
			require.NoError(t, s.Put(ctx, "nodes/repo/f/2", []byte("")))
			require.NoError(t, s.Put(ctx, "builds/repo/b1", []byte("manifest")))

			data, err := ReadAll(ctx, s, "nodes/repo/f/1")
			require.NoError(t, err)
			assert.Equal(t, "hello, slicemap", string(data))

			data, err = ReadRange(ctx, s, "nodes/repo/f/1", 7, 15)
			require.NoError(t, err)
			assert.Equal(t, "slicemap", string(data))

			data, err = ReadRange(ctx, s, "nodes/repo/f/1", 3, 3)
			require.NoError(t, err)
			assert.Empty(t, data)

			data, err = ReadAll(ctx, s, "nodes/repo/f/2")
			require.NoError(t, err)
			assert.Empty(t, data)

			_, err = ReadRange(ctx, s, "nodes/repo/f/1", 10, 99)
			assert.ErrorIs(t, err, ErrOutOfRange)
			_, err = ReadRange(ctx, s, "nodes/repo/f/1", 5, 4)
			assert.ErrorIs(t, err, ErrOutOfRange)

			_, err = s.Open(ctx, "nodes/repo/f/3")
			assert.ErrorIs(t, err, ErrNotFound)

			names, err := s.List(ctx, "nodes/repo/")
			require.NoError(t, err)
			assert.Equal(t, []string{"nodes/repo/f/1", "nodes/repo/f/2"}, names)

			names, err = s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, names, 3)

			// Overwrite replaces the content.
			require.NoError(t, s.Put(ctx, "builds/repo/b1", []byte("manifest v2")))
			data, err = ReadAll(ctx, s, "builds/repo/b1")
			require.NoError(t, err)
			assert.Equal(t, "manifest v2", string(data))

			require.NoError(t, s.Delete(ctx, "builds/repo/b1"))
			require.NoError(t, s.Delete(ctx, "builds/repo/b1"))
			_, err = ReadAll(ctx, s, "builds/repo/b1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, PutIfAbsent(ctx, s, "builds/repo/CURRENT", []byte("b1")))

			err := PutIfAbsent(ctx, s, "builds/repo/CURRENT", []byte("b2"))
			assert.ErrorIs(t, err, ErrExists)

			data, err := ReadAll(ctx, s, "builds/repo/CURRENT")
			require.NoError(t, err)
			assert.Equal(t, "b1", string(data))
		})
	}
}

func TestBlob_ReadAtEOF(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "b", []byte("0123456789")))
			b, err := s.Open(ctx, "b")
			require.NoError(t, err)
			defer b.Close()
			assert.Equal(t, int64(10), b.Size())

			buf := make([]byte, 4)
			n, err := b.ReadAt(ctx, buf, 8)
			assert.Equal(t, 2, n)
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, "89", string(buf[:n]))

			n, err = b.ReadAt(ctx, buf, 10)
			assert.Zero(t, n)
			assert.ErrorIs(t, err, io.EOF)

			n, err = b.ReadAt(ctx, buf, 3)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
			assert.Equal(t, "3456", string(buf))
		})
	}
}

func TestLocalStore_FailedPutKeepsPreviousBlob(t *testing.T) {
	ctx := context.Background()
	ffs := ifs.NewFaultyFS(nil)
	s := NewLocalStore(t.TempDir(), WithFileSystem(ffs))

	require.NoError(t, s.Put(ctx, "builds/repo/CURRENT", []byte("b1")))
	ffs.AddRule("CURRENT", ifs.Fault{FailOnSync: true})

	err := s.Put(ctx, "builds/repo/CURRENT", []byte("b2"))
	require.ErrorIs(t, err, ifs.ErrInjected)

	data, err := ReadAll(ctx, s, "builds/repo/CURRENT")
	require.NoError(t, err)
	assert.Equal(t, "b1", string(data))

	names, err := s.List(ctx, "builds/")
	require.NoError(t, err)
	assert.Equal(t, []string{"builds/repo/CURRENT"}, names)
}

func TestStore_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewLocalStore(t.TempDir())
	assert.ErrorIs(t, s.Put(ctx, "x", nil), context.Canceled)
	_, err := s.Open(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

type countingStore struct {
	Store
	reads     atomic.Int64
	readBytes atomic.Int64
	fail      error
}

func (c *countingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := c.Store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &countingBlob{Blob: b, store: c}, nil
}

type countingBlob struct {
	Blob
	store *countingStore
}

func (b *countingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if b.store.fail != nil {
		return 0, b.store.fail
	}
	b.store.reads.Add(1)
	n, err := b.Blob.ReadAt(ctx, p, off)
	b.store.readBytes.Add(int64(n))
	return n, err
}

func TestCachingStore_ServesRepeatedReadsFromCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: NewMemoryStore()}
	blocks := cache.NewLRUBlockCache(1<<20, nil)
	s := NewCachingStore(inner, blocks, 8)

	payload := []byte("abcdefghijklmnopqrstuvwxyz0123456789")
	require.NoError(t, s.Put(ctx, "nodes/r/f/1", payload))

	got, err := ReadRange(ctx, s, "nodes/r/f/1", 5, 20)
	require.NoError(t, err)
	assert.Equal(t, payload[5:20], got)
	assert.Equal(t, int64(1), inner.reads.Load(), "one contiguous run, one backend read")

	got, err = ReadRange(ctx, s, "nodes/r/f/1", 6, 18)
	require.NoError(t, err)
	assert.Equal(t, payload[6:18], got)
	assert.Equal(t, int64(1), inner.reads.Load(), "second read is fully cached")

	// Blocks 0-2 are cached; blocks 3-4 form one missing run.
	got, err = ReadAll(ctx, s, "nodes/r/f/1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(2), inner.reads.Load())

	hits, misses := blocks.Stats()
	assert.Positive(t, hits)
	assert.Positive(t, misses)
}

func TestCachingStore_PutInvalidates(t *testing.T) {
	ctx := context.Background()
	s := NewCachingStore(NewMemoryStore(), cache.NewLRUBlockCache(1<<20, nil), 4)

	require.NoError(t, s.Put(ctx, "b", []byte("old old old")))
	_, err := ReadAll(ctx, s, "b")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "b", []byte("new new new")))
	got, err := ReadAll(ctx, s, "b")
	require.NoError(t, err)
	assert.Equal(t, "new new new", string(got))
}

func TestCachingStore_PropagatesReadErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	inner := &countingStore{Store: NewMemoryStore()}
	s := NewCachingStore(inner, cache.NewLRUBlockCache(1<<20, nil), 4)
	require.NoError(t, s.Put(ctx, "b", []byte("0123456789")))

	inner.fail = boom
	_, err := ReadRange(ctx, s, "b", 0, 6)
	assert.ErrorIs(t, err, boom)
}

func TestPutIfAbsent_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		if _, ok := s.(ConditionalStore); !ok {
			continue
		}
		t.Run(name, func(t *testing.T) {
			const writers = 16
			var (
				wg   sync.WaitGroup
				wins atomic.Int32
			)
			for i := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := PutIfAbsent(ctx, s, "nodes/repo/f/1", []byte{byte(i)})
					if err == nil {
						wins.Add(1)
						return
					}
					assert.ErrorIs(t, err, ErrExists)
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}
