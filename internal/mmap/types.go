package mmap

import "errors"

// AccessPattern is a hint to the kernel about how mapped data will be read.
type AccessPattern int

const (
	// AccessDefault is the default access pattern (no specific advice).
	AccessDefault AccessPattern = iota
	// AccessSequential expects data to be read front to back.
	AccessSequential
	// AccessRandom expects scattered reads, as in trie walks.
	AccessRandom
	// AccessWillNeed expects data to be read soon.
	AccessWillNeed
)

var (
	// ErrClosed is returned when attempting to access a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrOutOfBounds is returned for a range outside the mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
	// ErrInvalidOffset is returned for a negative offset.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)
