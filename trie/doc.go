// Package trie implements the content-addressed radix trie used to map 64-bit
// keys to slice locations in immutable blobs.
//
// # Layout
//
// A key is split into fixed-width digits by a Geometry. The default geometry
// has four levels of widths 14, 14, 14 and 22 bits at offsets 0, 14, 28 and
// 42, so the root (level 3) branches on the top 22 bits and level 0 nodes hold
// the leaves. Every node records its own bit offset and width, which makes
// serialized nodes self-describing: a Reader never needs the geometry.
//
// # Writing
//
// Writer consumes entries in strictly increasing key order and emits nodes
// bottom-up. Each node is serialized, hashed with SHA-256, compressed and
// appended to a single blob per build. Nodes whose digest is already known to
// the dedup index are not written again; the parent links to the existing
// location instead, so identical subtrees are shared across builds that use
// the same compression mode. The digest covers the mode, because a Reader
// decodes all nodes of a trie with a single mode.
//
// # Reading
//
// Reader walks from the root through a shared node cache. When a node it needs
// is not cached, Query returns StatusNeedNode with the node's location; the
// caller fetches the bytes, hands them to NodeDataAvailable and retries.
// Readers never perform I/O.
package trie
