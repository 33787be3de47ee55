// Package manifest persists build manifests.
//
// # Overview
//
// A build writes three tries (nodemap, symmap, refmap) into the repository's
// node storage. The manifest records their roots together with everything a
// reader needs to open them again: the id of the repository root node, the
// node compression and the trie geometry. It also records the set of blob
// ids the build references, which is the input for garbage collection of
// node and entity blobs.
//
// # Layout
//
// Manifests live in the blob store next to the node blobs:
//
//	builds/{repo}/{build}   immutable manifest of one build
//	builds/{repo}/CURRENT   name of the active build
//
// A manifest is written once. Save fails with ErrBuildExists when the build
// already has one. SetCurrent moves the CURRENT pointer only after the
// target manifest has been read back successfully.
//
// # Binary Format
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x464d4d53 ("SMMF")
//	  Version  (4 bytes) - Format version (currently 1)
//	  Checksum (4 bytes) - CRC32-C of payload
//	  Length   (4 bytes) - Payload length in bytes
//
//	Payload:
//	  Repo, Build      (string)
//	  CreatedAt        (8 bytes) - Unix nanoseconds
//	  RootNodeID       (8 bytes)
//	  Compression      (4 bytes)
//	  NumWidths        (4 bytes), Widths (4 bytes each)
//	  NodeMap, SymMap, RefMap:
//	    Root           (3 x 8 bytes) - blob id, start, end
//	    Entries        (8 bytes)
//	  Blobs            (4 byte length + portable roaring64 bitmap)
//
// Strings are length-prefixed (2-byte length + bytes). All integers are
// little endian.
package manifest
