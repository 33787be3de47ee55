package cache

import (
	"encoding/binary"
	"hash/maphash"

	"github.com/hupe1980/slicemap/internal/resource"
)

const numShards = 64

// ShardedLRUBlockCache spreads blocks over 64 LRUBlockCache shards to reduce
// lock contention between concurrent readers.
type ShardedLRUBlockCache struct {
	shards [numShards]*LRUBlockCache
	seed   maphash.Seed
}

// NewShardedLRUBlockCache creates a sharded cache. capacity is split evenly
// across the shards.
func NewShardedLRUBlockCache(capacity int64, rc *resource.Controller) *ShardedLRUBlockCache {
	shardCapacity := max(capacity/numShards, 1)
	s := &ShardedLRUBlockCache{seed: maphash.MakeSeed()}
	for i := range numShards {
		s.shards[i] = NewLRUBlockCache(shardCapacity, rc)
	}
	return s
}

func (s *ShardedLRUBlockCache) shard(key CacheKey) *LRUBlockCache {
	var h maphash.Hash
	h.SetSeed(s.seed)
	_, _ = h.WriteString(key.Path)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key.Block)
	_, _ = h.Write(buf[:])
	return s.shards[h.Sum64()%numShards]
}

// Get returns a cached block.
func (s *ShardedLRUBlockCache) Get(key CacheKey) ([]byte, bool) {
	return s.shard(key).Get(key)
}

// Set caches a block.
func (s *ShardedLRUBlockCache) Set(key CacheKey, b []byte) {
	s.shard(key).Set(key, b)
}

// Invalidate removes entries matching the predicate from every shard.
func (s *ShardedLRUBlockCache) Invalidate(predicate func(key CacheKey) bool) {
	for _, sh := range s.shards {
		sh.Invalidate(predicate)
	}
}

// Stats returns hit and miss counts summed over shards.
func (s *ShardedLRUBlockCache) Stats() (hits, misses int64) {
	for _, sh := range s.shards {
		h, m := sh.Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

// Size returns the total cached bytes.
func (s *ShardedLRUBlockCache) Size() int64 {
	var total int64
	for _, sh := range s.shards {
		total += sh.Size()
	}
	return total
}
