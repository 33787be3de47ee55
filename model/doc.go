// Package model defines the identity and location types shared by the index.
//
// # Identity Types
//
//   - NodeID: identifier of an indexed code entity (uint64)
//   - SymID: identifier of a symbol (uint64)
//   - TokenLocation: a token inside a node, (NodeID, Offset)
//   - BlobID: identifier of an immutable content blob (uint64)
//
// # Location Types
//
//   - SliceLocation: a byte range [Start, End) inside a blob
//   - ConcreteLocation: the resolver's answer, a blob path plus optional byte range
package model
