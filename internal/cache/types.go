package cache

// CacheKey identifies one block of a blob. Blobs are immutable, so the key
// never needs a version.
type CacheKey struct {
	Path  string
	Block uint64
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(key CacheKey) (b []byte, ok bool)
	// Set caches a block. The cache retains b; the caller must not modify it.
	Set(key CacheKey, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key CacheKey) bool)
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
}
