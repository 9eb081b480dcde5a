package spec

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"slices"
	"sort"

	"github.com/google/hilbert"

	"github.com/eak1mov/go-libpyramid/tile"
)

var ErrInvalidMosaicTable = errors.New("libpyramid: invalid pack mosaic table")

// MosaicRange reserves the tile codes of one mosaic: Base + hilbert(col, row) over a
// square grid of side 1<<Order.
type MosaicRange struct {
	Pyramid string
	Mosaic  string
	Order   uint8
	Base    uint64
}

func (m MosaicRange) size() uint64 {
	return 1 << (2 * uint64(m.Order))
}

// MosaicTable maps mosaics to disjoint, consecutive tile code ranges. It is sorted by
// (Pyramid, Mosaic) and by Base.
type MosaicTable []MosaicRange

// NewMosaicTable builds a table from the largest column and row index seen per mosaic.
func NewMosaicTable(extents map[[2]string][2]uint32) MosaicTable {
	keys := make([][2]string, 0, len(extents))
	for k := range extents {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b [2]string) int {
		return cmp.Or(cmp.Compare(a[0], b[0]), cmp.Compare(a[1], b[1]))
	})

	table := make(MosaicTable, 0, len(keys))
	base := uint64(0)
	for _, k := range keys {
		extent := extents[k]
		order := uint8(bits.Len32(max(extent[0], extent[1])))
		m := MosaicRange{Pyramid: k[0], Mosaic: k[1], Order: order, Base: base}
		table = append(table, m)
		base += m.size()
	}
	return table
}

func (t MosaicTable) find(pyramid, mosaic string) (MosaicRange, bool) {
	idx, found := slices.BinarySearchFunc(t, [2]string{pyramid, mosaic}, func(m MosaicRange, k [2]string) int {
		return cmp.Or(cmp.Compare(m.Pyramid, k[0]), cmp.Compare(m.Mosaic, k[1]))
	})
	if !found {
		return MosaicRange{}, false
	}
	return t[idx], true
}

// EncodeTileID returns the tile code of tileID, or false when its mosaic is unknown or
// the position is outside the reserved grid.
func (t MosaicTable) EncodeTileID(tileID tile.ID) (uint64, bool) {
	m, ok := t.find(tileID.Pyramid, tileID.Mosaic)
	if !ok || uint64(tileID.Col)>>m.Order != 0 || uint64(tileID.Row)>>m.Order != 0 {
		return 0, false
	}
	h, err := hilbert.NewHilbert(1 << m.Order)
	if err != nil {
		return 0, false
	}
	code, err := h.MapInverse(int(tileID.Col), int(tileID.Row))
	if err != nil {
		return 0, false
	}
	return m.Base + uint64(code), true
}

func (t MosaicTable) DecodeTileID(tileCode uint64) (tile.ID, bool) {
	idx := sort.Search(len(t), func(i int) bool { return t[i].Base > tileCode }) - 1
	if idx < 0 || tileCode-t[idx].Base >= t[idx].size() {
		return tile.ID{}, false
	}
	m := t[idx]
	h, err := hilbert.NewHilbert(1 << m.Order)
	if err != nil {
		return tile.ID{}, false
	}
	col, row, err := h.Map(int(tileCode - m.Base))
	if err != nil {
		return tile.ID{}, false
	}
	return tile.ID{Pyramid: m.Pyramid, Mosaic: m.Mosaic, Col: uint32(col), Row: uint32(row)}, true
}

func (t MosaicTable) Serialize() []byte {
	buffer := binary.AppendUvarint(nil, uint64(len(t)))
	for _, m := range t {
		buffer = binary.AppendUvarint(buffer, uint64(len(m.Pyramid)))
		buffer = append(buffer, m.Pyramid...)
		buffer = binary.AppendUvarint(buffer, uint64(len(m.Mosaic)))
		buffer = append(buffer, m.Mosaic...)
		buffer = append(buffer, m.Order)
	}
	return buffer
}

func DeserializeMosaicTable(data []byte) (MosaicTable, error) {
	reader := bytes.NewReader(data)
	readString := func() (string, error) {
		n, err := binary.ReadUvarint(reader)
		if err != nil {
			return "", err
		}
		if n > uint64(reader.Len()) {
			return "", fmt.Errorf("string length %d exceeds data", n)
		}
		s := make([]byte, n)
		_, err = reader.Read(s)
		return string(s), err
	}

	count, err := binary.ReadUvarint(reader)
	if err != nil || count > uint64(len(data)) {
		return nil, fmt.Errorf("%w: bad mosaic count", ErrInvalidMosaicTable)
	}
	table := make(MosaicTable, 0, count)
	base := uint64(0)
	for range count {
		var m MosaicRange
		if m.Pyramid, err = readString(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidMosaicTable, err)
		}
		if m.Mosaic, err = readString(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidMosaicTable, err)
		}
		if m.Order, err = reader.ReadByte(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidMosaicTable, err)
		}
		if m.Order > 31 {
			return nil, fmt.Errorf("%w: order %d", ErrInvalidMosaicTable, m.Order)
		}
		m.Base = base
		base += m.size()
		table = append(table, m)
	}
	return table, nil
}
