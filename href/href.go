// Package href implements the textual reference syntax used at system
// boundaries and in hyperlinks embedded in indexed entities.
//
//	id:<node_id>                      node id
//	sym:<sym_id>                      symbol id
//	path:<path>                       repo-relative path
//	refs:<node_id>/<offset>           references of one token
//	slice:f/<blob_id>[<start>:<end>]  raw blob slice
//	cur/<node_id>                     direct node link
//
// Parse(r.String()) == r holds for every Reference.
package href

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/slicemap/model"
)

// ErrBadReference is returned for malformed reference text.
var ErrBadReference = errors.New("href: bad reference")

// Kind tags the variant of a Reference.
type Kind uint8

const (
	// KindNode references an entity by node id.
	KindNode Kind = iota + 1
	// KindSymbol references a symbol by id.
	KindSymbol
	// KindPath references an entity by repo-relative path.
	KindPath
	// KindRefs references the reference list of one token.
	KindRefs
	// KindSlice references raw bytes of a blob.
	KindSlice
	// KindDirect references a node without indirection through the node map.
	KindDirect
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindSymbol:
		return "symbol"
	case KindPath:
		return "path"
	case KindRefs:
		return "refs"
	case KindSlice:
		return "slice"
	case KindDirect:
		return "direct"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Reference is a closed union of the addressable things in an index. Only the
// fields of its Kind are set, so References compare with ==.
type Reference struct {
	Kind   Kind
	ID     uint64
	Offset model.Offset
	Path   string
	Slice  model.SliceLocation
}

// Node returns a node id reference.
func Node(id model.NodeID) Reference {
	return Reference{Kind: KindNode, ID: id}
}

// Symbol returns a symbol reference.
func Symbol(id model.SymID) Reference {
	return Reference{Kind: KindSymbol, ID: uint64(id)}
}

// Path returns a path reference. The empty path is the repository root.
func Path(p string) Reference {
	return Reference{Kind: KindPath, Path: p}
}

// Refs returns a reference to the references of the token at loc.
func Refs(loc model.TokenLocation) Reference {
	return Reference{Kind: KindRefs, ID: loc.NodeID, Offset: loc.Offset}
}

// Slice returns a raw slice reference.
func Slice(loc model.SliceLocation) Reference {
	return Reference{Kind: KindSlice, Slice: loc}
}

// Direct returns a direct node link.
func Direct(id model.NodeID) Reference {
	return Reference{Kind: KindDirect, ID: id}
}

// TokenLocation returns the token of a KindRefs reference.
func (r Reference) TokenLocation() model.TokenLocation {
	return model.TokenLocation{NodeID: r.ID, Offset: r.Offset}
}

// String renders the reference in its textual form.
func (r Reference) String() string {
	switch r.Kind {
	case KindNode:
		return "id:" + strconv.FormatUint(r.ID, 10)
	case KindSymbol:
		return "sym:" + strconv.FormatUint(r.ID, 10)
	case KindPath:
		return "path:" + r.Path
	case KindRefs:
		return fmt.Sprintf("refs:%d/%d", r.ID, r.Offset)
	case KindSlice:
		return "slice:" + r.Slice.String()
	case KindDirect:
		return "cur/" + strconv.FormatUint(r.ID, 10)
	}
	return fmt.Sprintf("invalid:%d", uint8(r.Kind))
}

// MarshalText implements encoding.TextMarshaler.
func (r Reference) MarshalText() ([]byte, error) {
	if r.Kind < KindNode || r.Kind > KindDirect {
		return nil, fmt.Errorf("%w: kind %d", ErrBadReference, r.Kind)
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Reference) UnmarshalText(text []byte) error {
	ref, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// Parse parses the textual form of a reference.
func Parse(s string) (Reference, error) {
	switch {
	case strings.HasPrefix(s, "id:"):
		id, err := parseUint(s, s[3:])
		return Node(id), err
	case strings.HasPrefix(s, "sym:"):
		id, err := parseUint(s, s[4:])
		return Symbol(model.SymID(id)), err
	case strings.HasPrefix(s, "path:"):
		return Path(s[5:]), nil
	case strings.HasPrefix(s, "cur/"):
		id, err := parseUint(s, s[4:])
		return Direct(id), err
	case strings.HasPrefix(s, "refs:"):
		return parseRefs(s)
	case strings.HasPrefix(s, "slice:"):
		return parseSlice(s)
	}
	return Reference{}, fmt.Errorf("%w: %q", ErrBadReference, s)
}

// refs:<node>/<offset>
func parseRefs(s string) (Reference, error) {
	node, off, ok := strings.Cut(s[len("refs:"):], "/")
	if !ok {
		return Reference{}, fmt.Errorf("%w: %q", ErrBadReference, s)
	}
	id, err := parseUint(s, node)
	if err != nil {
		return Reference{}, err
	}
	o, err := strconv.ParseUint(off, 10, 32)
	if err != nil || !digitsOnly(off) {
		return Reference{}, fmt.Errorf("%w: %q", ErrBadReference, s)
	}
	return Refs(model.TokenLocation{NodeID: id, Offset: model.Offset(o)}), nil
}

// slice:f/<blob>[<start>:<end>]
func parseSlice(s string) (Reference, error) {
	bad := fmt.Errorf("%w: %q", ErrBadReference, s)
	rest, ok := strings.CutPrefix(s, "slice:f/")
	if !ok {
		return Reference{}, bad
	}
	blob, rest, ok := strings.Cut(rest, "[")
	if !ok {
		return Reference{}, bad
	}
	rest, ok = strings.CutSuffix(rest, "]")
	if !ok {
		return Reference{}, bad
	}
	start, end, ok := strings.Cut(rest, ":")
	if !ok {
		return Reference{}, bad
	}

	var loc model.SliceLocation
	var err error
	var id uint64
	if id, err = parseUint(s, blob); err != nil {
		return Reference{}, err
	}
	loc.BlobID = model.BlobID(id)
	if loc.Start, err = parseUint(s, start); err != nil {
		return Reference{}, err
	}
	if loc.End, err = parseUint(s, end); err != nil {
		return Reference{}, err
	}
	return Slice(loc), nil
}

func parseUint(full, digits string) (uint64, error) {
	if !digitsOnly(digits) {
		return 0, fmt.Errorf("%w: %q", ErrBadReference, full)
	}
	v, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadReference, full)
	}
	return v, nil
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
