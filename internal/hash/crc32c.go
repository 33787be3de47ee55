package hash

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// ErrChecksum is returned by VerifyCRC32C for a mismatching trailer.
var ErrChecksum = errors.New("hash: crc32c mismatch")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// AppendCRC32C appends the little endian CRC32C of buf to buf.
func AppendCRC32C(buf []byte) []byte {
	return binary.LittleEndian.AppendUint32(buf, CRC32C(buf))
}

// VerifyCRC32C checks a buffer written by AppendCRC32C and returns it
// without the trailer.
func VerifyCRC32C(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, ErrChecksum
	}
	body, trailer := buf[:len(buf)-4], buf[len(buf)-4:]
	if CRC32C(body) != binary.LittleEndian.Uint32(trailer) {
		return nil, ErrChecksum
	}
	return body, nil
}
