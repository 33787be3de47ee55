package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/slicemap/compress"
	"github.com/hupe1980/slicemap/internal/hash"
	"github.com/hupe1980/slicemap/model"
)

const (
	binaryMagic      = 0x464d4d53 // "SMMF"
	binaryHeaderSize = 16

	// maxWidths bounds the level count read from a payload; a level is at
	// least one bit wide.
	maxWidths = 64
)

// WriteBinary writes the manifest in binary format.
func (m *Manifest) WriteBinary(w io.Writer) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *Manifest) MarshalBinary() ([]byte, error) {
	var blobs []byte
	if m.Blobs != nil {
		var err error
		if blobs, err = m.Blobs.ToBytes(); err != nil {
			return nil, fmt.Errorf("manifest: encode blob set: %w", err)
		}
	}

	pb := newPayloadBuffer(make([]byte, 0, 160+len(m.Repo)+len(m.Build)+4*len(m.Widths)+len(blobs)))
	pb.writeString(m.Repo)
	pb.writeString(m.Build)
	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeUint64(m.RootNodeID)
	pb.writeUint32(uint32(m.Compression))
	pb.writeUint32(uint32(len(m.Widths)))
	for _, w := range m.Widths {
		pb.writeUint32(w)
	}
	for _, t := range []TrieInfo{m.NodeMap, m.SymMap, m.RefMap} {
		pb.writeLocation(t.Root)
		pb.writeUint64(t.Entries)
	}
	pb.writeBytes(blobs)

	if pb.err != nil {
		return nil, pb.err
	}

	payload := pb.buf
	out := make([]byte, binaryHeaderSize, binaryHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(out[4:8], CurrentVersion)
	binary.LittleEndian.PutUint32(out[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(payload)))
	return append(out, payload...), nil
}

// ReadBinary reads a manifest in binary format.
func ReadBinary(r io.Reader) (*Manifest, error) {
	header := make([]byte, binaryHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[12:16])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return decode(header, payload)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *Manifest) UnmarshalBinary(data []byte) error {
	if len(data) < binaryHeaderSize {
		return io.ErrUnexpectedEOF
	}
	length := binary.LittleEndian.Uint32(data[12:16])
	if uint64(len(data)-binaryHeaderSize) != uint64(length) {
		return fmt.Errorf("manifest: payload is %d bytes, header says %d", len(data)-binaryHeaderSize, length)
	}
	dec, err := decode(data[:binaryHeaderSize], data[binaryHeaderSize:])
	if err != nil {
		return err
	}
	*m = *dec
	return nil
}

func decode(header, payload []byte) (*Manifest, error) {
	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != binaryMagic {
		return nil, fmt.Errorf("manifest: invalid magic: %x", magic)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, version)
	}
	if hash.CRC32C(payload) != binary.LittleEndian.Uint32(header[8:12]) {
		return nil, ErrChecksum
	}

	pb := newPayloadBuffer(payload)
	m := &Manifest{Version: int(version)}

	m.Repo = pb.readString()
	m.Build = pb.readString()
	m.CreatedAt = time.Unix(0, int64(pb.readUint64()))
	m.RootNodeID = pb.readUint64()

	mode := pb.readUint32()
	if mode > math.MaxUint8 {
		return nil, fmt.Errorf("%w: %d", compress.ErrUnknownMode, mode)
	}
	m.Compression = compress.Mode(mode)

	numWidths := pb.readUint32()
	if numWidths > maxWidths {
		return nil, fmt.Errorf("manifest: %d trie levels", numWidths)
	}
	if numWidths > 0 {
		m.Widths = make([]uint32, numWidths)
		for i := range m.Widths {
			m.Widths[i] = pb.readUint32()
		}
	}

	for _, t := range []*TrieInfo{&m.NodeMap, &m.SymMap, &m.RefMap} {
		t.Root = pb.readLocation()
		t.Entries = pb.readUint64()
	}

	blobs := pb.readBytes()
	if pb.err != nil {
		return nil, pb.err
	}
	m.Blobs = roaring64.New()
	if len(blobs) > 0 {
		if _, err := m.Blobs.ReadFrom(bytes.NewReader(blobs)); err != nil {
			return nil, fmt.Errorf("manifest: decode blob set: %w", err)
		}
	}
	return m, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > math.MaxUint16 {
		p.err = fmt.Errorf("manifest: string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) writeBytes(b []byte) {
	if p.err != nil {
		return
	}
	if uint64(len(b)) > math.MaxUint32 {
		p.err = fmt.Errorf("manifest: field too long: %d", len(b))
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(len(b)))
	p.buf = append(p.buf, b...)
}

func (p *payloadBuffer) writeLocation(l model.SliceLocation) {
	p.writeUint64(uint64(l.BlobID))
	p.writeUint64(l.Start)
	p.writeUint64(l.End)
}

func (p *payloadBuffer) readUint64() uint64 {
	if p.err != nil {
		return 0
	}
	if p.pos+8 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payloadBuffer) readUint32() uint32 {
	if p.err != nil {
		return 0
	}
	if p.pos+4 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payloadBuffer) readString() string {
	if p.err != nil {
		return ""
	}
	if p.pos+2 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return ""
	}
	l := int(binary.LittleEndian.Uint16(p.buf[p.pos:]))
	p.pos += 2

	if p.pos+l > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return ""
	}
	s := string(p.buf[p.pos : p.pos+l])
	p.pos += l
	return s
}

func (p *payloadBuffer) readBytes() []byte {
	l := uint64(p.readUint32())
	if p.err != nil {
		return nil
	}
	if l > uint64(len(p.buf)-p.pos) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	b := p.buf[p.pos : p.pos+int(l)]
	p.pos += int(l)
	return b
}

func (p *payloadBuffer) readLocation() model.SliceLocation {
	return model.SliceLocation{
		BlobID: model.BlobID(p.readUint64()),
		Start:  p.readUint64(),
		End:    p.readUint64(),
	}
}
