package trie

import (
	"fmt"
	"strconv"
	"strings"
)

// Geometry describes how a 64-bit key is split into per-level digits.
// Widths[0] is the lowest digit (leaf level); the last entry is the root.
type Geometry struct {
	widths  []uint32
	offsets []uint32
}

// DefaultWidths are the level widths of DefaultGeometry.
var DefaultWidths = []uint32{14, 14, 14, 22}

// DefaultGeometry returns the four-level 14/14/14/22 geometry.
func DefaultGeometry() Geometry {
	g, _ := NewGeometry(DefaultWidths...)
	return g
}

// NewGeometry builds a geometry from level widths, lowest level first.
// The widths must each be in [1, 63] and sum to 64.
func NewGeometry(widths ...uint32) (Geometry, error) {
	if len(widths) == 0 {
		return Geometry{}, fmt.Errorf("%w: no levels", ErrInvalidGeometry)
	}
	g := Geometry{
		widths:  make([]uint32, len(widths)),
		offsets: make([]uint32, len(widths)),
	}
	var off uint32
	for i, w := range widths {
		if w == 0 || w > 63 {
			return Geometry{}, fmt.Errorf("%w: level %d width %d", ErrInvalidGeometry, i, w)
		}
		g.widths[i] = w
		g.offsets[i] = off
		off += w
	}
	if off != 64 {
		return Geometry{}, fmt.Errorf("%w: widths sum to %d, want 64", ErrInvalidGeometry, off)
	}
	return g, nil
}

// ParseGeometry parses a comma separated width list such as "14,14,14,22".
func ParseGeometry(s string) (Geometry, error) {
	parts := strings.Split(s, ",")
	widths := make([]uint32, 0, len(parts))
	for _, p := range parts {
		w, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return Geometry{}, fmt.Errorf("%w: %q", ErrInvalidGeometry, s)
		}
		widths = append(widths, uint32(w))
	}
	return NewGeometry(widths...)
}

// Levels returns the number of levels.
func (g Geometry) Levels() int {
	return len(g.widths)
}

// Top returns the index of the root level.
func (g Geometry) Top() int {
	return len(g.widths) - 1
}

// Width returns the digit width of level.
func (g Geometry) Width(level int) uint32 {
	return g.widths[level]
}

// Offset returns the bit offset of level.
func (g Geometry) Offset(level int) uint32 {
	return g.offsets[level]
}

// Widths returns a copy of the level widths.
func (g Geometry) Widths() []uint32 {
	return append([]uint32(nil), g.widths...)
}

// Prefix returns the digit of key at level.
func (g Geometry) Prefix(key uint64, level int) uint64 {
	return digit(key, g.offsets[level], g.widths[level])
}

// Valid reports whether g was built by NewGeometry.
func (g Geometry) Valid() bool {
	return len(g.widths) > 0
}

// String returns the comma separated widths.
func (g Geometry) String() string {
	parts := make([]string, len(g.widths))
	for i, w := range g.widths {
		parts[i] = strconv.FormatUint(uint64(w), 10)
	}
	return strings.Join(parts, ",")
}

func digit(key uint64, offset, width uint32) uint64 {
	if offset >= 64 {
		return 0
	}
	if width >= 64 {
		return key >> offset
	}
	return (key >> offset) & (1<<width - 1)
}
