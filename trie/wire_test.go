package trie

import (
	"testing"

	"github.com/hupe1980/slicemap/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMarshalNode_RoundTrip(t *testing.T) {
	zero := model.Offset(0)
	seven := model.Offset(7)
	n := &Node{
		BitOffset: 14,
		BitWidth:  14,
		Branches: []Branch{
			{Prefix: 0, Location: &model.SliceLocation{BlobID: 0, Start: 0, End: 0}, TokenOffset: &zero},
			{Prefix: 1, Location: &model.SliceLocation{BlobID: 2, Start: 10, End: 20}, Inner: true},
			{Prefix: 1, TokenOffset: &seven},
		},
	}

	got, err := UnmarshalNode(MarshalNode(n))
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestMarshalNode_Deterministic(t *testing.T) {
	mk := func() *Node {
		return &Node{BitOffset: 42, BitWidth: 22, Branches: []Branch{
			{Prefix: 3, Location: &model.SliceLocation{BlobID: 1, Start: 5, End: 9}, Inner: true},
		}}
	}
	assert.Equal(t, MarshalNode(mk()), MarshalNode(mk()))
	assert.Equal(t, []byte{0x08, 42, 0x10, 22}, MarshalNode(&Node{BitOffset: 42, BitWidth: 22}))
}

func TestUnmarshalNode_SkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 28)
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))
	b = protowire.AppendTag(b, 10, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 1)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, 14)

	n, err := UnmarshalNode(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(28), n.BitOffset)
	assert.Equal(t, uint32(14), n.BitWidth)
	assert.Empty(t, n.Branches)
}

func TestUnmarshalNode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated tag", []byte{0x80}},
		{"truncated bytes", []byte{0x1a, 0x05, 0x01}},
		{"offset too large", protowire.AppendVarint([]byte{0x08}, 65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalNode(tt.data)
			assert.ErrorIs(t, err, ErrCorruptNode)
		})
	}
}

func TestNode_FindSecondary(t *testing.T) {
	off := func(v model.Offset) *model.Offset { return &v }
	l := func(i uint64) *model.SliceLocation { return &model.SliceLocation{Start: i, End: i + 1} }
	n := &Node{BitWidth: 14, Branches: []Branch{
		{Prefix: 1, Location: l(1), TokenOffset: off(2)},
		{Prefix: 1, Location: l(2), TokenOffset: off(4)},
		{Prefix: 3, Location: l(3), Inner: true},
		{Prefix: 5, Location: l(5)},
		{Prefix: 5, Location: l(6), TokenOffset: off(0)},
	}}

	assert.Equal(t, l(2), n.FindSecondary(1, 4).Location)
	assert.Nil(t, n.FindSecondary(1, 3))
	assert.Equal(t, l(3), n.FindSecondary(3, 99).Location, "inner branches ignore the secondary key")
	assert.Equal(t, l(6), n.FindSecondary(5, 0).Location)
	assert.Nil(t, n.FindSecondary(2, 0))
	assert.Equal(t, l(1), n.Find(1).Location)
}
