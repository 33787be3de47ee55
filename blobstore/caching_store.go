package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/slicemap/internal/cache"
	"golang.org/x/sync/errgroup"
)

// DefaultBlockSize is the block size used when none is configured.
const DefaultBlockSize = 64 << 10

// CachingStore wraps a Store and caches reads in aligned blocks.
type CachingStore struct {
	inner     Store
	cache     cache.BlockCache
	blockSize int64
}

// NewCachingStore creates a new CachingStore.
// blockSize defaults to DefaultBlockSize if <= 0.
func NewCachingStore(inner Store, c cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &CachingStore{
		inner:     inner,
		cache:     c,
		blockSize: blockSize,
	}
}

// Open opens a blob whose reads go through the block cache.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &CachingBlob{
		inner:     b,
		cache:     s.cache,
		name:      name,
		blockSize: s.blockSize,
	}, nil
}

// Put writes through and drops cached blocks of the blob.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// PutIfAbsent creates the blob in the wrapped store unless it exists.
func (s *CachingStore) PutIfAbsent(ctx context.Context, name string, data []byte) error {
	if err := PutIfAbsent(ctx, s.inner, name, data); err != nil {
		return err
	}
	s.invalidate(name)
	return nil
}

// Delete deletes through and drops cached blocks of the blob.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List delegates to the wrapped store.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) invalidate(name string) {
	s.cache.Invalidate(func(key cache.CacheKey) bool {
		return key.Path == name
	})
}

// CachingBlob wraps a Blob and uses the block cache for reads.
type CachingBlob struct {
	inner     Blob
	cache     cache.BlockCache
	name      string
	blockSize int64
}

func (b *CachingBlob) Close() error {
	return b.inner.Close()
}

func (b *CachingBlob) Size() int64 {
	return b.inner.Size()
}

// ReadAt serves the read from cached blocks, fetching missing runs of blocks
// with one backend read per run.
func (b *CachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	size := b.Size()
	if off < 0 || off >= size {
		return 0, io.EOF
	}

	want := p
	if off+int64(len(p)) > size {
		want = p[:size-off]
	}

	startBlock := off / b.blockSize
	endBlock := (off + int64(len(want)) - 1) / b.blockSize

	blocks, err := b.fetch(ctx, startBlock, endBlock)
	if err != nil {
		return 0, err
	}

	total := 0
	for i, data := range blocks {
		blkStart := (startBlock + int64(i)) * b.blockSize
		lo := max(blkStart, off)
		hi := min(blkStart+int64(len(data)), off+int64(len(want)))
		if hi <= lo {
			continue
		}
		total += copy(want[lo-off:hi-off], data[lo-blkStart:hi-blkStart])
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

type blockRun struct {
	start, count int64
}

// fetch returns blocks [startBlock, endBlock], reading contiguous runs of
// missing blocks concurrently.
func (b *CachingBlob) fetch(ctx context.Context, startBlock, endBlock int64) ([][]byte, error) {
	blocks := make([][]byte, endBlock-startBlock+1)

	var runs []blockRun
	for blk := startBlock; blk <= endBlock; blk++ {
		if data, ok := b.cache.Get(b.key(blk)); ok {
			blocks[blk-startBlock] = data
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].start+runs[n-1].count == blk {
			runs[n-1].count++
		} else {
			runs = append(runs, blockRun{start: blk, count: 1})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)

	for _, run := range runs {
		g.Go(func() error {
			byteStart := run.start * b.blockSize
			byteSize := min(run.count*b.blockSize, b.Size()-byteStart)
			if byteSize <= 0 {
				return nil
			}

			buf := make([]byte, byteSize)
			n, err := b.inner.ReadAt(gctx, buf, byteStart)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			buf = buf[:n]

			for i := range run.count {
				lo := i * b.blockSize
				if lo >= int64(len(buf)) {
					break
				}
				hi := min(lo+b.blockSize, int64(len(buf)))
				// Copy so a cached block does not pin the whole run.
				block := append([]byte(nil), buf[lo:hi]...)
				b.cache.Set(b.key(run.start+i), block)
				blocks[run.start+i-startBlock] = block
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

func (b *CachingBlob) key(block int64) cache.CacheKey {
	return cache.CacheKey{Path: b.name, Block: uint64(block)}
}
