// Package tile provides the byte-level interfaces implemented by tile storage backends.
package tile

import (
	"errors"
	"fmt"
)

var ErrReadOnly = errors.New("libpyramid: tile store is read-only")

// ID addresses an encoded tile: a (column, row) position inside one mosaic of one pyramid.
type ID struct {
	Pyramid string
	Mosaic  string
	Col     uint32
	Row     uint32
}

func (t ID) Valid() bool {
	return t.Pyramid != "" && t.Mosaic != ""
}

func (t ID) String() string {
	return fmt.Sprintf("%s/%s/%d/%d", t.Pyramid, t.Mosaic, t.Col, t.Row)
}

// Writer defines an interface for writing encoded tiles.
type Writer interface {
	// WriteTile stores a single tile, replacing any previous data.
	WriteTile(tileID ID, tileData []byte) error
}

type Reader interface {
	// ReadTile reads a single tile.
	// It returns the tile data or an error if the tile cannot be read.
	// If the tile does not exist, it returns an empty slice with no error.
	ReadTile(tileID ID) ([]byte, error)
}

// Checker is implemented by stores that can test tile presence without reading it.
type Checker interface {
	HasTile(tileID ID) (bool, error)
}

type Deleter interface {
	// DeleteTile removes a single tile. Deleting a missing tile is not an error.
	DeleteTile(tileID ID) error

	// DeleteTiles removes every tile of a mosaic, or of a whole pyramid when mosaic is empty.
	DeleteTiles(pyramid, mosaic string) error
}

type Visitor interface {
	// VisitTiles visits all tiles in the store, calling the visitor for each.
	// It returns an error if visiting fails.
	// Order of tiles, upfront cpu and memory consumption are implementation-defined.
	VisitTiles(visitor func(ID, []byte) error) error
}

// MetadataStore keeps one opaque metadata document next to the tiles.
// ReadMetadata returns an empty slice when nothing has been written.
type MetadataStore interface {
	ReadMetadata() ([]byte, error)
	WriteMetadata(metadata []byte) error
}

// Finalizer is implemented by writers that must flush buffers, indices or headers
// before being closed.
type Finalizer interface {
	Finalize() error
}

// Store is the full contract of a read-write backend.
type Store interface {
	Reader
	Writer
	Deleter
	Visitor
	MetadataStore
	Close() error
}

// Location represents the absolute location of tile data inside a single-file store.
type Location struct {
	Offset uint64
	Length uint64
}

type LocationReader interface {
	ReadLocation(tileID ID) (Location, error)
}

type LocationVisitor interface {
	VisitLocations(visitor func(ID, Location) error) error
}
