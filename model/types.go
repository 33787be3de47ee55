package model

import (
	"fmt"
)

// NodeID identifies an indexed code entity.
type NodeID = uint64

// Offset is a token offset inside a node.
type Offset = uint32

// SymID identifies a symbol.
type SymID uint64

// BlobID identifies an immutable blob.
type BlobID uint64

// TokenLocation addresses one token of a node. It is the key of the
// references map: many token locations share a node id.
type TokenLocation struct {
	NodeID NodeID
	Offset Offset
}

// String returns a string representation of the TokenLocation.
func (t TokenLocation) String() string {
	return fmt.Sprintf("%d/%d", t.NodeID, t.Offset)
}

// Less reports whether t orders before o (node id first, then offset).
func (t TokenLocation) Less(o TokenLocation) bool {
	if t.NodeID != o.NodeID {
		return t.NodeID < o.NodeID
	}
	return t.Offset < o.Offset
}

// SliceLocation identifies the byte range [Start, End) inside blob BlobID.
// Blobs are immutable once written, so a SliceLocation is a stable address.
type SliceLocation struct {
	BlobID BlobID
	Start  uint64
	End    uint64
}

// Len returns the number of bytes in the slice.
func (l SliceLocation) Len() uint64 {
	if l.End < l.Start {
		return 0
	}
	return l.End - l.Start
}

// Compare orders locations by blob id, start and end.
func (l SliceLocation) Compare(o SliceLocation) int {
	switch {
	case l.BlobID < o.BlobID:
		return -1
	case l.BlobID > o.BlobID:
		return 1
	case l.Start < o.Start:
		return -1
	case l.Start > o.Start:
		return 1
	case l.End < o.End:
		return -1
	case l.End > o.End:
		return 1
	}
	return 0
}

// BlobPath returns the repo-relative path of the blob, "f/{blob_id}".
func (l SliceLocation) BlobPath() string {
	return BlobPath(l.BlobID)
}

// String returns a string representation of the SliceLocation.
func (l SliceLocation) String() string {
	return fmt.Sprintf("f/%d[%d:%d]", l.BlobID, l.Start, l.End)
}

// BlobPath returns the repo-relative path of blob id.
func BlobPath(id BlobID) string {
	return fmt.Sprintf("f/%d", id)
}

// ByteRange is a half-open byte range [Start, End).
type ByteRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// ConcreteLocation is the result of resolving a reference: a path relative to
// the repo's node storage and, when the content is a slice of a blob, the byte
// range inside it.
type ConcreteLocation struct {
	Path        string     `json:"path"`
	BlobBytes   *ByteRange `json:"blob_bytes,omitempty"`
	TokenOffset *Offset    `json:"token_offset,omitempty"`
}

// LocationOf converts a SliceLocation into the ConcreteLocation that reads it.
func LocationOf(l SliceLocation) ConcreteLocation {
	return ConcreteLocation{
		Path:      l.BlobPath(),
		BlobBytes: &ByteRange{Start: l.Start, End: l.End},
	}
}

// Equal reports whether two concrete locations address the same bytes.
func (c ConcreteLocation) Equal(o ConcreteLocation) bool {
	if c.Path != o.Path {
		return false
	}
	if (c.BlobBytes == nil) != (o.BlobBytes == nil) {
		return false
	}
	if c.BlobBytes != nil && *c.BlobBytes != *o.BlobBytes {
		return false
	}
	if (c.TokenOffset == nil) != (o.TokenOffset == nil) {
		return false
	}
	return c.TokenOffset == nil || *c.TokenOffset == *o.TokenOffset
}

// String returns a string representation of the ConcreteLocation.
func (c ConcreteLocation) String() string {
	if c.BlobBytes == nil {
		return c.Path
	}
	return fmt.Sprintf("%s[%d:%d]", c.Path, c.BlobBytes.Start, c.BlobBytes.End)
}

// NodesPath returns the storage path of a repo-relative path such as a
// ConcreteLocation.Path: "nodes/{repo}/{rel}".
func NodesPath(repo, rel string) string {
	return "nodes/" + repo + "/" + rel
}
