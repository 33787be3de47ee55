package cache

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/slicemap/model"
)

// ErrAlreadyCached is returned by Insert when the key is already present.
var ErrAlreadyCached = errors.New("cache: entry already cached")

// DefaultCapacity is the capacity used when none is configured.
const DefaultCapacity = 1024

// Key identifies a cached node: the namespace of the trie it belongs to and
// the location its bytes were read from.
type Key struct {
	Namespace string
	Location  model.SliceLocation
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Len       int
	Capacity  int
}

const nilIndex int32 = -1

type entry[V any] struct {
	key   Key
	value V
	prev  int32
	next  int32
}

// NodeCache is a bounded LRU map from Key to V.
//
// Entries live in a fixed arena and are linked by index, so steady-state
// inserts and evictions do not allocate.
type NodeCache[V any] struct {
	mu       sync.Mutex
	capacity int
	entries  []entry[V]
	index    map[Key]int32
	head     int32 // most recently used
	tail     int32 // least recently used

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a NodeCache holding at most capacity entries.
// A capacity below one is raised to one.
func New[V any](capacity int) *NodeCache[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &NodeCache[V]{
		capacity: capacity,
		entries:  make([]entry[V], 0, min(capacity, 4096)),
		index:    make(map[Key]int32, min(capacity, 4096)),
		head:     nilIndex,
		tail:     nilIndex,
	}
}

// Insert adds value under key, evicting the least recently used entry when
// the cache is full. It returns ErrAlreadyCached if key is present; the
// existing entry is left unchanged in that case.
func (c *NodeCache[V]) Insert(key Key, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[key]; ok {
		return ErrAlreadyCached
	}

	var slot int32
	if len(c.entries) < c.capacity {
		c.entries = append(c.entries, entry[V]{})
		slot = int32(len(c.entries) - 1)
	} else {
		slot = c.tail
		c.unlink(slot)
		delete(c.index, c.entries[slot].key)
		c.evictions.Add(1)
	}

	c.entries[slot] = entry[V]{key: key, value: value, prev: nilIndex, next: nilIndex}
	c.pushFront(slot)
	c.index[key] = slot
	return nil
}

// Access calls f with the value stored under key and marks the entry as most
// recently used. It reports whether the key was present; f is not called on a
// miss.
func (c *NodeCache[V]) Access(key Key, f func(V)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.index[key]
	if !ok {
		c.misses.Add(1)
		return false
	}
	c.hits.Add(1)
	if slot != c.head {
		c.unlink(slot)
		c.pushFront(slot)
	}
	f(c.entries[slot].value)
	return true
}

// Contains reports whether key is cached without touching recency.
func (c *NodeCache[V]) Contains(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[key]
	return ok
}

// Purge removes every entry of namespace and returns how many were removed.
// Freed slots are compacted so the arena stays dense.
func (c *NodeCache[V]) Purge(namespace string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, slot := range c.index {
		if key.Namespace != namespace {
			continue
		}
		c.unlink(slot)
		delete(c.index, key)
		c.entries[slot] = entry[V]{prev: nilIndex, next: nilIndex}
		removed++
	}
	if removed > 0 {
		c.compact()
	}
	return removed
}

// Len returns the number of cached entries.
func (c *NodeCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Capacity returns the maximum number of entries.
func (c *NodeCache[V]) Capacity() int {
	return c.capacity
}

// Stats returns a snapshot of the cache counters.
func (c *NodeCache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Len:       c.Len(),
		Capacity:  c.capacity,
	}
}

// Handle returns a view of the cache scoped to namespace.
func (c *NodeCache[V]) Handle(namespace string) *Handle[V] {
	return &Handle[V]{cache: c, namespace: namespace}
}

func (c *NodeCache[V]) pushFront(slot int32) {
	e := &c.entries[slot]
	e.prev = nilIndex
	e.next = c.head
	if c.head != nilIndex {
		c.entries[c.head].prev = slot
	}
	c.head = slot
	if c.tail == nilIndex {
		c.tail = slot
	}
}

func (c *NodeCache[V]) unlink(slot int32) {
	e := &c.entries[slot]
	if e.prev != nilIndex {
		c.entries[e.prev].next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nilIndex {
		c.entries[e.next].prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nilIndex, nilIndex
}

// compact rebuilds the arena from the live list, preserving recency order.
func (c *NodeCache[V]) compact() {
	live := make([]entry[V], 0, cap(c.entries))
	for slot := c.head; slot != nilIndex; slot = c.entries[slot].next {
		live = append(live, c.entries[slot])
	}
	c.head, c.tail = nilIndex, nilIndex
	for i := range live {
		live[i].prev = int32(i) - 1
		live[i].next = int32(i) + 1
		c.index[live[i].key] = int32(i)
	}
	if n := len(live); n > 0 {
		live[n-1].next = nilIndex
		c.head = 0
		c.tail = int32(n - 1)
	}
	c.entries = live
}

// Handle is a NodeCache scoped to one namespace.
type Handle[V any] struct {
	cache     *NodeCache[V]
	namespace string
}

// Namespace returns the namespace of the handle.
func (h *Handle[V]) Namespace() string {
	return h.namespace
}

// Cache returns the underlying shared cache.
func (h *Handle[V]) Cache() *NodeCache[V] {
	return h.cache
}

// Insert adds value at loc. See NodeCache.Insert.
func (h *Handle[V]) Insert(loc model.SliceLocation, value V) error {
	return h.cache.Insert(Key{Namespace: h.namespace, Location: loc}, value)
}

// Access calls f with the value at loc. See NodeCache.Access.
func (h *Handle[V]) Access(loc model.SliceLocation, f func(V)) bool {
	return h.cache.Access(Key{Namespace: h.namespace, Location: loc}, f)
}

// Contains reports whether loc is cached in this namespace.
func (h *Handle[V]) Contains(loc model.SliceLocation) bool {
	return h.cache.Contains(Key{Namespace: h.namespace, Location: loc})
}

// Purge drops every entry of this namespace.
func (h *Handle[V]) Purge() int {
	return h.cache.Purge(h.namespace)
}
