// Package hash provides the hashing utilities used by the index.
//
// # Content Hashes
//
// Trie nodes are deduplicated by the SHA-256 digest of their uncompressed
// serialized bytes, tagged with the compression mode they are stored in. A
// reader decodes every node of a build with one mode, so a node is only
// reused by builds that store nodes the same way.
//
//	h := hash.ContentWithTag(byte(mode), nodeBytes)
//
// # CRC32-Castagnoli (CRC32C)
//
// Persisted control files (build manifests, dedup snapshots) and S3 uploads
// carry a CRC32C checksum:
//
//	checksum := hash.CRC32C(data)
package hash
