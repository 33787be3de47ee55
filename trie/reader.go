package trie

import (
	"errors"
	"fmt"

	"github.com/hupe1980/slicemap/cache"
	"github.com/hupe1980/slicemap/compress"
	"github.com/hupe1980/slicemap/model"
)

// Status is the outcome of a Query.
type Status uint8

const (
	// StatusNotFound means the key is not in the trie.
	StatusNotFound Status = iota
	// StatusFound means Lookup.Location holds the value location.
	StatusFound
	// StatusNeedNode means the node at Lookup.Location must be supplied
	// through NodeDataAvailable before the query can make progress.
	StatusNeedNode
)

func (s Status) String() string {
	switch s {
	case StatusNotFound:
		return "not_found"
	case StatusFound:
		return "found"
	case StatusNeedNode:
		return "need_node"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Lookup is the answer of a Query.
type Lookup struct {
	Status   Status
	Location model.SliceLocation
}

// maxDepth bounds the walk; a well-formed trie is never deeper than 64 levels.
const maxDepth = 64

// Reader answers queries against one trie through a node cache. A Reader does
// no I/O and is safe for concurrent use.
type Reader struct {
	root        model.SliceLocation
	nodes       *cache.Handle[*Node]
	compression compress.Mode
}

// NewReader returns a Reader for the trie rooted at root. Node bytes handed to
// NodeDataAvailable are decompressed with mode.
func NewReader(root model.SliceLocation, nodes *cache.Handle[*Node], mode compress.Mode) *Reader {
	return &Reader{root: root, nodes: nodes, compression: mode}
}

// Root returns the root location.
func (r *Reader) Root() model.SliceLocation {
	return r.root
}

// Query looks up key.
func (r *Reader) Query(key uint64) (Lookup, error) {
	return r.query(key, 0, false)
}

// QueryWithSecondary looks up the entry with key and secondary key.
func (r *Reader) QueryWithSecondary(key uint64, secondary model.Offset) (Lookup, error) {
	return r.query(key, secondary, true)
}

func (r *Reader) query(key uint64, secondary model.Offset, withSecondary bool) (Lookup, error) {
	loc := r.root
	for range maxDepth {
		var (
			br   Branch
			hit  bool
			seen bool
		)
		seen = r.nodes.Access(loc, func(n *Node) {
			var b *Branch
			if withSecondary {
				b = n.FindSecondary(key, secondary)
			} else {
				b = n.Find(key)
			}
			if b != nil {
				br, hit = *b, true
			}
		})
		if !seen {
			return Lookup{Status: StatusNeedNode, Location: loc}, nil
		}
		if !hit {
			return Lookup{Status: StatusNotFound}, nil
		}
		if br.Location == nil {
			return Lookup{}, fmt.Errorf("%w: key %d under %s", ErrMissingLocation, key, loc)
		}
		if !br.Inner {
			return Lookup{Status: StatusFound, Location: *br.Location}, nil
		}
		loc = *br.Location
	}
	return Lookup{}, fmt.Errorf("%w: lookup of %d deeper than %d levels", ErrCorruptNode, key, maxDepth)
}

// NodeDataAvailable decodes the raw (possibly compressed) bytes of the node
// at loc and caches it. Supplying a node that is already cached is not an
// error.
func (r *Reader) NodeDataAvailable(loc model.SliceLocation, raw []byte) error {
	data, err := compress.Decompress(r.compression, raw)
	if err != nil {
		return fmt.Errorf("trie: node %s: %w", loc, err)
	}
	n, err := UnmarshalNode(data)
	if err != nil {
		return fmt.Errorf("trie: node %s: %w", loc, err)
	}
	return r.NodeAvailable(loc, n)
}

// NodeAvailable caches an already decoded node.
func (r *Reader) NodeAvailable(loc model.SliceLocation, n *Node) error {
	if err := r.nodes.Insert(loc, n); err != nil && !errors.Is(err, cache.ErrAlreadyCached) {
		return err
	}
	return nil
}
