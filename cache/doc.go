// Package cache provides the shared, bounded LRU cache of decoded trie nodes.
//
// One NodeCache is shared by every trie reader of a process. Entries are keyed
// by a namespace (one per trie of one build, for example "linux/build1/n") and
// the SliceLocation the node was read from. A Handle scopes a NodeCache to a
// single namespace and is what readers hold.
//
// # Eviction
//
// The cache holds at most Capacity entries. Inserting into a full cache evicts
// the least recently used entry; both Insert and a successful Access mark an
// entry as most recently used. Entries are never expired otherwise, since the
// blobs they were decoded from are immutable.
//
// # Concurrency
//
// All operations are serialized by a single mutex. Access runs its callback
// while holding the lock, so callbacks must be short and must not call back
// into the cache.
package cache
