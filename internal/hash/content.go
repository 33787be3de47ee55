package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length of a content digest in bytes.
const Size = sha256.Size

// Digest is the SHA-256 digest of a serialized trie node.
type Digest [Size]byte

// Content returns the content digest of data.
func Content(data []byte) Digest {
	return sha256.Sum256(data)
}

// ContentWithTag returns the digest of tag followed by data. Equal data under
// different tags yields different digests.
func ContentWithTag(tag byte, data []byte) Digest {
	h := sha256.New()
	h.Write([]byte{tag})
	h.Write(data)
	var d Digest
	h.Sum(d[:0])
	return d
}

// String returns the lowercase hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest decodes a hex encoded digest. ok is false if s is malformed.
func ParseDigest(s string) (d Digest, ok bool) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != Size {
		return Digest{}, false
	}
	copy(d[:], b)
	return d, true
}
