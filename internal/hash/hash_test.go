package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent_Stable(t *testing.T) {
	a := Content([]byte("trie node"))
	b := Content([]byte("trie node"))
	c := Content([]byte("trie node 2"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestContentWithTag(t *testing.T) {
	data := []byte("trie node")
	a := ContentWithTag(0, data)

	assert.Equal(t, a, ContentWithTag(0, data))
	assert.NotEqual(t, a, ContentWithTag(2, data))
	assert.NotEqual(t, a, Content(data))
	assert.Equal(t, Content(append([]byte{2}, data...)), ContentWithTag(2, data))
}

func TestDigest_StringRoundTrip(t *testing.T) {
	d := Content([]byte("abc"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", d.String())

	parsed, ok := ParseDigest(d.String())
	require.True(t, ok)
	assert.Equal(t, d, parsed)

	_, ok = ParseDigest("zz")
	assert.False(t, ok)
	_, ok = ParseDigest("abcd")
	assert.False(t, ok)
}

func TestCRC32C(t *testing.T) {
	// Known answer for the standard check input.
	assert.Equal(t, uint32(0xe3069283), CRC32C([]byte("123456789")))

	buf := AppendCRC32C([]byte("123456789"))
	require.Len(t, buf, 13)

	body, err := VerifyCRC32C(buf)
	require.NoError(t, err)
	assert.Equal(t, "123456789", string(body))

	buf[0] ^= 1
	_, err = VerifyCRC32C(buf)
	assert.ErrorIs(t, err, ErrChecksum)
	_, err = VerifyCRC32C([]byte{1, 2})
	assert.ErrorIs(t, err, ErrChecksum)
}
