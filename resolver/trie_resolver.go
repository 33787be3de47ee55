package resolver

import (
	"fmt"

	"github.com/hupe1980/slicemap/href"
	"github.com/hupe1980/slicemap/model"
	"github.com/hupe1980/slicemap/trie"
)

// TrieResolver resolves node ids, symbol ids and token references through
// the three tries of a build. Every other kind of reference, and paths other
// than the repository root, go to the backup resolver.
type TrieResolver struct {
	backup     Resolver
	nodemap    *trie.Reader
	symmap     *trie.Reader
	refmap     *trie.Reader
	rootNodeID model.NodeID
}

// NewTrieResolver returns a TrieResolver. backup may be nil, in which case
// references the tries do not cover are unsupported.
func NewTrieResolver(backup Resolver, nodemap, symmap, refmap *trie.Reader, rootNodeID model.NodeID) *TrieResolver {
	return &TrieResolver{
		backup:     backup,
		nodemap:    nodemap,
		symmap:     symmap,
		refmap:     refmap,
		rootNodeID: rootNodeID,
	}
}

// Readers returns the nodemap, symmap and refmap readers.
func (t *TrieResolver) Readers() (nodemap, symmap, refmap *trie.Reader) {
	return t.nodemap, t.symmap, t.refmap
}

// Resolve implements Resolver.
func (t *TrieResolver) Resolve(ref href.Reference) (Result, error) {
	switch ref.Kind {
	case href.KindNode:
		return query(ref, t.nodemap, func(r *trie.Reader) (trie.Lookup, error) {
			return r.Query(ref.ID)
		})
	case href.KindSymbol:
		return query(ref, t.symmap, func(r *trie.Reader) (trie.Lookup, error) {
			return r.Query(ref.ID)
		})
	case href.KindRefs:
		return query(ref, t.refmap, func(r *trie.Reader) (trie.Lookup, error) {
			return r.QueryWithSecondary(ref.ID, ref.Offset)
		})
	case href.KindPath:
		if ref.Path == "" {
			return query(ref, t.nodemap, func(r *trie.Reader) (trie.Lookup, error) {
				return r.Query(t.rootNodeID)
			})
		}
	}
	if t.backup == nil {
		return Result{}, wrap(ref, fmt.Errorf("%w: %s", ErrUnsupportedReference, ref.Kind))
	}
	return t.backup.Resolve(ref)
}

func query(ref href.Reference, r *trie.Reader, lookup func(*trie.Reader) (trie.Lookup, error)) (Result, error) {
	if r == nil {
		return Result{}, wrap(ref, fmt.Errorf("%w: no trie for %s", ErrUnsupportedReference, ref.Kind))
	}
	res, err := lookup(r)
	if err != nil {
		return Result{}, wrap(ref, err)
	}
	switch res.Status {
	case trie.StatusFound:
		return Resolved(model.LocationOf(res.Location)), nil
	case trie.StatusNeedNode:
		return Result{
			Status: StatusNeedData,
			Need: &Need{
				Location: model.LocationOf(res.Location),
				Slice:    res.Location,
				reader:   r,
			},
		}, nil
	}
	return NotFound(), nil
}
