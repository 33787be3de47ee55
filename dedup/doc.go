// Package dedup maps content digests of serialized trie nodes to the slice
// locations where they were first written.
//
// Trie writers consult an Index before appending a node: when the digest is
// known, the parent links to the existing location and the node is not
// written again. Entries are never removed, so a location returned by an
// Index stays valid for as long as the blob it points into is kept.
//
// The Index also allocates blob ids. Writers claim an allocated id by creating
// its blob with a conditional put (see ClaimBlobID), so two builds never write
// to the same blob, also when they run on separate snapshots of one index.
package dedup
