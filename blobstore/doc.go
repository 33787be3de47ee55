// Package blobstore provides the storage boundary of the index: immutable
// named blobs with ranged reads.
//
// Trie nodes, entity slices, manifests and the dedup index are all stored as
// blobs. Names are slash separated paths such as "nodes/linux/f/3" or
// "builds/linux/7c2f...". A blob is written once with Put and never modified;
// readers only ever request byte ranges they were handed as a SliceLocation.
//
// # Implementations
//
//   - LocalStore: local filesystem, atomic writes, mmap reads
//   - MemoryStore: in-process map, for tests and small indexes
//   - CachingStore: block cache in front of another Store
//   - s3.Store: Amazon S3 (package blobstore/s3)
//   - minio.Store: MinIO and other S3 compatible servers (package blobstore/minio)
//
// All implementations are safe for concurrent use and report missing blobs
// with an error satisfying errors.Is(err, ErrNotFound).
package blobstore
