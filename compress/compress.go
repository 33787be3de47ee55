// Package compress implements the compression modes applied to blobs written
// by the index: trie nodes and entity slices.
//
// Content hashes are always computed on uncompressed bytes; compression only
// affects the bytes appended to a blob.
package compress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Mode selects the compression algorithm.
type Mode uint8

const (
	// None stores bytes as-is.
	None Mode = iota
	// Gzip compresses with gzip (compatible with transparent HTTP decoding).
	Gzip
	// Zstd compresses with zstandard.
	Zstd
	// LZ4 compresses with LZ4 block compression behind a size header.
	LZ4
)

var (
	// ErrUnknownMode is returned for an unsupported compression mode.
	ErrUnknownMode = errors.New("compress: unknown mode")

	// ErrCorrupt is returned when compressed data cannot be decoded.
	ErrCorrupt = errors.New("compress: corrupt data")
)

// String returns the stable name of the mode.
func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode returns the mode with the given name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// ZSTD encoder/decoder pools
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	return dec
}

// MaxDecompressedSize bounds the output of Decompress. Larger outputs are
// reported as ErrCorrupt.
const MaxDecompressedSize = 256 << 20

// lz4MaxRatio is the largest expansion an LZ4 block can encode: every further
// 255 bytes of match length cost one input byte.
const lz4MaxRatio = 255

// lz4HeaderSize is the LZ4 frame header: [UncompressedSize uint32][CompressedSize uint32].
// CompressedSize == 0 means the payload is stored uncompressed.
const lz4HeaderSize = 8

// Compress returns data compressed with mode. For None the input slice is
// returned unchanged.
func Compress(mode Mode, data []byte) ([]byte, error) {
	switch mode {
	case None:
		return data, nil
	case Gzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Zstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, nil), nil
	case LZ4:
		return compressLZ4(data)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMode, mode)
}

// Decompress reverses Compress.
func Decompress(mode Mode, data []byte) ([]byte, error) {
	switch mode {
	case None:
		return data, nil
	case Gzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, MaxDecompressedSize+1))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if len(out) > MaxDecompressedSize {
			return nil, fmt.Errorf("%w: gzip output exceeds %d bytes", ErrCorrupt, MaxDecompressedSize)
		}
		return out, nil
	case Zstd:
		if len(data) == 0 {
			return []byte{}, nil
		}
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return out, nil
	case LZ4:
		return decompressLZ4(data)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMode, mode)
}

func compressLZ4(data []byte) ([]byte, error) {
	out := make([]byte, lz4HeaderSize+lz4.CompressBlockBound(len(data)))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))

	n, err := lz4.CompressBlock(data, out[lz4HeaderSize:], nil)
	if err != nil {
		return nil, err
	}
	if n == 0 || n >= len(data) {
		// Incompressible: store raw.
		out = append(out[:lz4HeaderSize], data...)
		binary.LittleEndian.PutUint32(out[4:], 0)
		return out, nil
	}
	binary.LittleEndian.PutUint32(out[4:], uint32(n))
	return out[:lz4HeaderSize+n], nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	if len(data) < lz4HeaderSize {
		return nil, fmt.Errorf("%w: lz4 block too small for header", ErrCorrupt)
	}
	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	compressedSize := binary.LittleEndian.Uint32(data[4:])
	payload := data[lz4HeaderSize:]

	if compressedSize == 0 {
		if uint32(len(payload)) != uncompressedSize {
			return nil, fmt.Errorf("%w: lz4 raw block size mismatch", ErrCorrupt)
		}
		return payload, nil
	}
	if uint32(len(payload)) < compressedSize {
		return nil, fmt.Errorf("%w: lz4 block truncated", ErrCorrupt)
	}
	if uncompressedSize > MaxDecompressedSize || uint64(uncompressedSize) > uint64(compressedSize)*lz4MaxRatio+lz4HeaderSize {
		return nil, fmt.Errorf("%w: lz4 size %d out of bounds for %d input bytes", ErrCorrupt, uncompressedSize, compressedSize)
	}

	out := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(payload[:compressedSize], out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if uint32(n) != uncompressedSize {
		return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
	}
	return out, nil
}
