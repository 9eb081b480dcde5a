// Package index provides a flat binary location index for pack archives.
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/eak1mov/go-libpyramid/pack/spec"
	"github.com/eak1mov/go-libpyramid/tile"
)

// Item maps one tile to its location (Offset, Length) in the archive file.
// Mosaic is the position of the tile's mosaic in the archive mosaic table.
// It is designed to be easily portable to other languages and utilities.
type Item struct {
	Mosaic uint32
	Col    uint32
	Row    uint32
	Length uint32
	Offset uint64
}

// Source is a single-file store whose tile locations can be indexed.
type Source interface {
	tile.LocationVisitor
	Mosaics() spec.MosaicTable
}

func (i Item) TileID(mosaics spec.MosaicTable) (tile.ID, error) {
	if int(i.Mosaic) >= len(mosaics) {
		return tile.ID{}, fmt.Errorf("libpyramid: index mosaic %d outside table of %d", i.Mosaic, len(mosaics))
	}
	m := mosaics[i.Mosaic]
	return tile.ID{Pyramid: m.Pyramid, Mosaic: m.Mosaic, Col: i.Col, Row: i.Row}, nil
}

func (i Item) TileLocation() tile.Location {
	return tile.Location{Offset: i.Offset, Length: uint64(i.Length)}
}

// Build lists the location of every tile of src, in directory order.
func Build(src Source) ([]Item, error) {
	mosaics := src.Mosaics()
	positions := make(map[[2]string]uint32, len(mosaics))
	for i, m := range mosaics {
		positions[[2]string{m.Pyramid, m.Mosaic}] = uint32(i)
	}
	var items []Item
	err := src.VisitLocations(func(tileID tile.ID, location tile.Location) error {
		pos, ok := positions[[2]string{tileID.Pyramid, tileID.Mosaic}]
		if !ok {
			return fmt.Errorf("libpyramid: tile %v outside mosaic table", tileID)
		}
		items = append(items, Item{
			Mosaic: pos,
			Col:    tileID.Col,
			Row:    tileID.Row,
			Length: uint32(location.Length),
			Offset: location.Offset,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func WriteAll(items []Item, writer io.Writer) error {
	return binary.Write(writer, binary.LittleEndian, items)
}

func ReadAll(indexData []byte) ([]Item, error) {
	size := binary.Size(Item{})
	if len(indexData)%size != 0 {
		return nil, fmt.Errorf("libpyramid: index size %d is not a multiple of %d", len(indexData), size)
	}
	items := make([]Item, len(indexData)/size)

	err := binary.Read(bytes.NewReader(indexData), binary.LittleEndian, items)
	if err != nil {
		return nil, err
	}

	return items, nil
}
