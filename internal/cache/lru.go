package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/slicemap/internal/resource"
)

// LRUBlockCache is a BlockCache bounded by the total size of its blocks.
type LRUBlockCache struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[CacheKey]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   CacheKey
	value []byte
}

// NewLRUBlockCache creates a cache holding at most capacity bytes. If rc is
// not nil, cached bytes are also charged to it.
func NewLRUBlockCache(capacity int64, rc *resource.Controller) *LRUBlockCache {
	return &LRUBlockCache{
		capacity:  capacity,
		items:     make(map[CacheKey]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns a cached block.
func (c *LRUBlockCache) Get(key CacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a block. Blocks larger than the capacity are not cached.
func (c *LRUBlockCache) Set(key CacheKey, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(b))
	if size > c.capacity {
		return
	}
	if el, ok := c.items[key]; ok {
		// Immutable blobs: an existing block already holds the same bytes.
		c.evictList.MoveToFront(el)
		return
	}

	for c.size+size > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.removeElement(el)
	}

	// The controller tracks memory across caches; when it refuses, skip.
	if !c.rc.TryAcquireMemory(size) {
		return
	}

	c.items[key] = c.evictList.PushFront(&entry{key: key, value: b})
	c.size += size
}

// Invalidate removes entries matching the predicate.
func (c *LRUBlockCache) Invalidate(predicate func(key CacheKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, el := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		c.removeElement(el)
	}
}

// Stats returns hit and miss counts.
func (c *LRUBlockCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the current size of the cache in bytes.
func (c *LRUBlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached blocks.
func (c *LRUBlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUBlockCache) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	kv := el.Value.(*entry)
	delete(c.items, kv.key)
	size := int64(len(kv.value))
	c.size -= size
	c.rc.ReleaseMemory(size)
}
