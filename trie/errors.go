package trie

import "errors"

var (
	// ErrOutOfOrderKey is returned when entries are not strictly increasing.
	ErrOutOfOrderKey = errors.New("trie: key out of order")

	// ErrDuplicateKey is returned when the same key (and secondary key) is
	// written twice.
	ErrDuplicateKey = errors.New("trie: duplicate key")

	// ErrOffsetOverflow is returned when a blob offset does not fit in 64 bits.
	ErrOffsetOverflow = errors.New("trie: blob offset overflow")

	// ErrMissingLocation is returned when a branch on the lookup path carries
	// no location.
	ErrMissingLocation = errors.New("trie: branch without location")

	// ErrInvalidGeometry is returned for a geometry that does not partition
	// the 64-bit key space.
	ErrInvalidGeometry = errors.New("trie: invalid geometry")

	// ErrCorruptNode is returned when serialized node bytes cannot be decoded
	// or describe an impossible trie.
	ErrCorruptNode = errors.New("trie: corrupt node")
)
