package resolver

import (
	"errors"
	"fmt"

	"github.com/hupe1980/slicemap/href"
	"github.com/hupe1980/slicemap/model"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedBlob is returned by ReadBlob for undecodable input.
var ErrMalformedBlob = errors.New("resolver: malformed blob")

// nodeIDField is the field number of the node id in an entity message.
const nodeIDField protowire.Number = 1

// SingleBlobResolver resolves node ids against one blob of length-delimited
// entity messages held in memory. Every location it returns is in blob 0.
type SingleBlobResolver struct {
	nodes map[model.NodeID]model.SliceLocation
}

// ReadBlob indexes data. Each message is a varint length followed by the
// message bytes; the recorded range covers the message without its length.
func ReadBlob(data []byte) (*SingleBlobResolver, error) {
	nodes := make(map[model.NodeID]model.SliceLocation)
	for off := 0; off < len(data); {
		size, n := protowire.ConsumeVarint(data[off:])
		if n < 0 {
			return nil, fmt.Errorf("%w: length at %d: %v", ErrMalformedBlob, off, protowire.ParseError(n))
		}
		start := off + n
		if size > uint64(len(data)-start) {
			return nil, fmt.Errorf("%w: message at %d overruns blob", ErrMalformedBlob, start)
		}
		end := start + int(size)

		id, err := messageNodeID(data[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: message at %d: %v", ErrMalformedBlob, start, err)
		}
		nodes[id] = model.SliceLocation{BlobID: 0, Start: uint64(start), End: uint64(end)}
		off = end
	}
	return &SingleBlobResolver{nodes: nodes}, nil
}

func messageNodeID(msg []byte) (model.NodeID, error) {
	var id model.NodeID
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		msg = msg[n:]
		if num == nodeIDField && typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(msg)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			id = v
			msg = msg[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, msg)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		msg = msg[m:]
	}
	return id, nil
}

// Len returns the number of indexed nodes.
func (s *SingleBlobResolver) Len() int {
	return len(s.nodes)
}

// Resolve implements Resolver. Only node id references are supported.
func (s *SingleBlobResolver) Resolve(ref href.Reference) (Result, error) {
	if ref.Kind != href.KindNode {
		return Result{}, wrap(ref, fmt.Errorf("%w: %s", ErrUnsupportedReference, ref.Kind))
	}
	loc, ok := s.nodes[ref.ID]
	if !ok {
		return NotFound(), nil
	}
	return Resolved(model.LocationOf(loc)), nil
}
