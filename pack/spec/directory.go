package spec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
)

var ErrInvalidDirectory = errors.New("libpyramid: invalid pack directory")

// Entry points either at tile data (RunLength > 0, covering RunLength consecutive tile
// codes sharing the same content) or at a leaf directory (RunLength == 0).
type Entry struct {
	TileCode  uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// Directory is a list of entries sorted by tile code.
type Directory []Entry

// Serialize encodes the directory column by column: delta-coded tile codes, run
// lengths, lengths, then offsets (0 meaning "right after the previous entry").
func (d Directory) Serialize() []byte {
	buffer := binary.AppendUvarint(nil, uint64(len(d)))

	lastCode := uint64(0)
	for _, entry := range d {
		buffer = binary.AppendUvarint(buffer, entry.TileCode-lastCode)
		lastCode = entry.TileCode
	}
	for _, entry := range d {
		buffer = binary.AppendUvarint(buffer, uint64(entry.RunLength))
	}
	for _, entry := range d {
		buffer = binary.AppendUvarint(buffer, uint64(entry.Length))
	}

	nextOffset := uint64(0)
	for i, entry := range d {
		if i > 0 && entry.Offset == nextOffset {
			buffer = binary.AppendUvarint(buffer, 0)
		} else {
			buffer = binary.AppendUvarint(buffer, entry.Offset+1)
		}
		nextOffset = entry.Offset + uint64(entry.Length)
	}
	return buffer
}

func DeserializeDirectory(data []byte) (Directory, error) {
	byteReader := bytes.NewReader(data)

	var err error
	readUvarint := func() uint64 {
		if err != nil {
			return 0
		}
		var value uint64
		value, err = binary.ReadUvarint(byteReader)
		return value
	}

	numEntries := readUvarint()
	// every entry takes at least four bytes
	if err != nil || numEntries > uint64(len(data))/4+1 {
		return nil, fmt.Errorf("%w: bad entry count", ErrInvalidDirectory)
	}
	entries := make(Directory, numEntries)

	lastCode := uint64(0)
	for i := range entries {
		lastCode += readUvarint()
		entries[i].TileCode = lastCode
	}
	for i := range entries {
		entries[i].RunLength = uint32(readUvarint())
	}
	for i := range entries {
		entries[i].Length = uint32(readUvarint())
	}
	for i := range entries {
		value := readUvarint()
		if value == 0 && i > 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = value - 1
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDirectory, err)
	}
	return entries, nil
}

// Compact merges consecutive tile codes pointing at the same data into runs. The
// directory must be sorted.
func (d Directory) Compact() Directory {
	if len(d) == 0 {
		return d
	}
	wi := 0
	for ri := 1; ri < len(d); ri++ {
		if d[ri].Offset == d[wi].Offset &&
			d[ri].TileCode == d[wi].TileCode+uint64(d[wi].RunLength) {
			d[wi].RunLength++
		} else {
			wi++
			d[wi] = d[ri]
		}
	}
	return d[:wi+1]
}

// Find returns the entry covering tileCode, or the leaf directory entry that may hold it.
func (d Directory) Find(tileCode uint64) (Entry, bool) {
	idx := sort.Search(len(d), func(i int) bool {
		return d[i].TileCode > tileCode
	})
	if idx == 0 {
		return Entry{}, false
	}

	entry := d[idx-1]
	if entry.RunLength == 0 || tileCode < entry.TileCode+uint64(entry.RunLength) {
		return entry, true
	}
	return Entry{}, false
}

// SerializeAll returns the compressed root directory and the concatenated compressed
// leaf directories. Leaves are introduced, and grown, until the root fits in
// RootDirMaxLength.
func SerializeAll(entries Directory, compression Compression) (root []byte, leaves []byte, err error) {
	root, err = Compress(entries.Serialize(), compression)
	if err != nil {
		return nil, nil, err
	}
	leaves = make([]byte, 0)
	if len(entries) == 0 || len(root) <= RootDirMaxLength {
		return root, leaves, nil
	}

	entriesCount := float64(len(entries))
	entrySize := float64(len(root)) / entriesCount
	maxRootEntries := float64(RootDirMaxLength) * 0.9 / entrySize
	leafNumEntries := max(entriesCount/maxRootEntries, 4096, math.Sqrt(entriesCount))

	for len(root) > RootDirMaxLength {
		rootEntries := make(Directory, 0)
		leaves = leaves[:0]

		for leafEntries := range slices.Chunk(entries, int(leafNumEntries)) {
			leaf, err := Compress(Directory(leafEntries).Serialize(), compression)
			if err != nil {
				return nil, nil, err
			}
			rootEntries = append(rootEntries, Entry{
				TileCode:  leafEntries[0].TileCode,
				Offset:    uint64(len(leaves)),
				Length:    uint32(len(leaf)),
				RunLength: 0,
			})
			leaves = append(leaves, leaf...)
		}

		if root, err = Compress(rootEntries.Serialize(), compression); err != nil {
			return nil, nil, err
		}
		leafNumEntries *= 1.1
	}
	return root, leaves, nil
}
