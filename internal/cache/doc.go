// Package cache provides byte-capacity LRU caches for fixed-size blocks of
// remote blobs.
//
// Blob stores backed by object storage answer range reads with a round trip
// each. CachingStore in package blobstore splits reads into aligned blocks
// and keeps recently read blocks here, so the many small node reads of a trie
// walk hit memory after the first fetch of a block.
//
// # Implementations
//
//   - LRUBlockCache: one mutex, strict LRU by bytes
//   - ShardedLRUBlockCache: 64 LRUBlockCache shards selected by key hash
//
// Both can charge their memory to a resource.Controller; a block that the
// controller refuses is simply not cached.
package cache
