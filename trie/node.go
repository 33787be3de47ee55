package trie

import (
	"sort"

	"github.com/hupe1980/slicemap/model"
)

// Branch is one child slot of a node.
//
// A leaf branch (Inner false) points at the value slice for its key. An inner
// branch points at the serialized child node. TokenOffset carries the
// secondary key of a leaf when the trie was written with secondary keys.
type Branch struct {
	Prefix      uint64
	Location    *model.SliceLocation
	Inner       bool
	TokenOffset *model.Offset
}

// Node is a decoded trie node. Branches are sorted by (Prefix, TokenOffset).
type Node struct {
	BitOffset uint32
	BitWidth  uint32
	Branches  []Branch
}

// Prefix returns the digit of key this node branches on.
func (n *Node) Prefix(key uint64) uint64 {
	return digit(key, n.BitOffset, n.BitWidth)
}

// find returns the index of the first branch with the given prefix, or -1.
func (n *Node) find(prefix uint64) int {
	i := sort.Search(len(n.Branches), func(i int) bool {
		return n.Branches[i].Prefix >= prefix
	})
	if i < len(n.Branches) && n.Branches[i].Prefix == prefix {
		return i
	}
	return -1
}

// Find returns the branch matching key, or nil. For tries with secondary keys
// this is the branch with the smallest secondary key.
func (n *Node) Find(key uint64) *Branch {
	i := n.find(n.Prefix(key))
	if i < 0 {
		return nil
	}
	return &n.Branches[i]
}

// FindSecondary returns the branch matching key and secondary, or nil.
// Inner branches match on key alone.
func (n *Node) FindSecondary(key uint64, secondary model.Offset) *Branch {
	prefix := n.Prefix(key)
	lo := n.find(prefix)
	if lo < 0 {
		return nil
	}
	if n.Branches[lo].Inner {
		return &n.Branches[lo]
	}
	hi := lo + sort.Search(len(n.Branches)-lo, func(i int) bool {
		return n.Branches[lo+i].Prefix > prefix
	})
	run := n.Branches[lo:hi]
	j := sort.Search(len(run), func(i int) bool {
		return compareSecondary(run[i].TokenOffset, secondary) >= 0
	})
	if j < len(run) && run[j].TokenOffset != nil && *run[j].TokenOffset == secondary {
		return &run[j]
	}
	return nil
}

// compareSecondary orders an absent secondary key before every present one.
func compareSecondary(a *model.Offset, b model.Offset) int {
	switch {
	case a == nil:
		return -1
	case *a < b:
		return -1
	case *a > b:
		return 1
	}
	return 0
}
