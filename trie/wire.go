package trie

import (
	"fmt"

	"github.com/hupe1980/slicemap/model"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the serialized node. The encoding is protobuf compatible:
//
//	message TrieNode { uint64 bit_offset = 1; uint64 bits = 2; repeated Branch branches = 3; }
//	message Branch { uint64 prefix = 1; BlobSliceLoc location = 2; bool is_inner_node = 3; optional uint32 token_offset = 4; }
//	message BlobSliceLoc { uint64 blob_id = 1; uint64 start_offset = 2; uint64 end_offset = 3; }
const (
	fieldNodeBitOffset protowire.Number = 1
	fieldNodeBits      protowire.Number = 2
	fieldNodeBranches  protowire.Number = 3

	fieldBranchPrefix   protowire.Number = 1
	fieldBranchLocation protowire.Number = 2
	fieldBranchInner    protowire.Number = 3
	fieldBranchToken    protowire.Number = 4

	fieldLocBlobID protowire.Number = 1
	fieldLocStart  protowire.Number = 2
	fieldLocEnd    protowire.Number = 3
)

// MarshalNode serializes n. Equal nodes always serialize to equal bytes.
func MarshalNode(n *Node) []byte {
	var b []byte
	b = appendVarintField(b, fieldNodeBitOffset, uint64(n.BitOffset))
	b = appendVarintField(b, fieldNodeBits, uint64(n.BitWidth))
	var scratch []byte
	for i := range n.Branches {
		scratch = appendBranch(scratch[:0], &n.Branches[i])
		b = protowire.AppendTag(b, fieldNodeBranches, protowire.BytesType)
		b = protowire.AppendBytes(b, scratch)
	}
	return b
}

// UnmarshalNode decodes bytes produced by MarshalNode. Unknown fields are
// skipped.
func UnmarshalNode(data []byte) (*Node, error) {
	n := &Node{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, sub []byte) error {
		switch {
		case num == fieldNodeBitOffset && typ == protowire.VarintType:
			if v > 64 {
				return fmt.Errorf("%w: bit offset %d", ErrCorruptNode, v)
			}
			n.BitOffset = uint32(v)
		case num == fieldNodeBits && typ == protowire.VarintType:
			if v > 64 {
				return fmt.Errorf("%w: bit width %d", ErrCorruptNode, v)
			}
			n.BitWidth = uint32(v)
		case num == fieldNodeBranches && typ == protowire.BytesType:
			br, err := unmarshalBranch(sub)
			if err != nil {
				return err
			}
			n.Branches = append(n.Branches, br)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func appendBranch(b []byte, br *Branch) []byte {
	b = appendVarintField(b, fieldBranchPrefix, br.Prefix)
	if br.Location != nil {
		var loc []byte
		loc = appendVarintField(loc, fieldLocBlobID, uint64(br.Location.BlobID))
		loc = appendVarintField(loc, fieldLocStart, br.Location.Start)
		loc = appendVarintField(loc, fieldLocEnd, br.Location.End)
		b = protowire.AppendTag(b, fieldBranchLocation, protowire.BytesType)
		b = protowire.AppendBytes(b, loc)
	}
	if br.Inner {
		b = appendVarintField(b, fieldBranchInner, 1)
	}
	if br.TokenOffset != nil {
		// Explicit presence: written even when zero.
		b = protowire.AppendTag(b, fieldBranchToken, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*br.TokenOffset))
	}
	return b
}

func unmarshalBranch(data []byte) (Branch, error) {
	var br Branch
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, sub []byte) error {
		switch {
		case num == fieldBranchPrefix && typ == protowire.VarintType:
			br.Prefix = v
		case num == fieldBranchLocation && typ == protowire.BytesType:
			loc, err := unmarshalLocation(sub)
			if err != nil {
				return err
			}
			br.Location = &loc
		case num == fieldBranchInner && typ == protowire.VarintType:
			br.Inner = v != 0
		case num == fieldBranchToken && typ == protowire.VarintType:
			off := model.Offset(v)
			br.TokenOffset = &off
		}
		return nil
	})
	return br, err
}

func unmarshalLocation(data []byte) (model.SliceLocation, error) {
	var loc model.SliceLocation
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
		if typ != protowire.VarintType {
			return nil
		}
		switch num {
		case fieldLocBlobID:
			loc.BlobID = model.BlobID(v)
		case fieldLocStart:
			loc.Start = v
		case fieldLocEnd:
			loc.End = v
		}
		return nil
	})
	return loc, err
}

// appendVarintField appends a proto3 scalar, omitting the zero value.
func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// walkFields calls fn for every field of a message. For varint fields v holds
// the value; for length-delimited fields sub holds the payload.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, sub []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorruptNode, protowire.ParseError(n))
		}
		data = data[n:]

		var (
			v   uint64
			sub []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			sub, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorruptNode, protowire.ParseError(n))
		}
		data = data[n:]

		if err := fn(num, typ, v, sub); err != nil {
			return err
		}
	}
	return nil
}
