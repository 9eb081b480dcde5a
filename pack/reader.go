package pack

import (
	"fmt"
	"log/slog"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/eak1mov/go-libpyramid/pack/spec"
	"github.com/eak1mov/go-libpyramid/tile"
)

type FileAccessFunc = func(offset, length uint64) ([]byte, error)

// Reader gives read-only tile.Store access to a pack archive. Every mutating method
// returns tile.ErrReadOnly.
type Reader struct {
	fileAccess FileAccessFunc
	fileCloser func() error
	header     *spec.Header
	table      spec.MosaicTable
	dirCache   *lru.Cache[uint64, spec.Directory]
	logger     *slog.Logger
}

var _ tile.Store = (*Reader)(nil)

type readerConfig struct {
	DirectoryCacheSize int
	Logger             *slog.Logger
}

type ReaderOption func(*readerConfig)

// WithDirectoryCache keeps up to n decoded leaf directories in memory.
func WithDirectoryCache(n int) ReaderOption {
	return func(c *readerConfig) { c.DirectoryCacheSize = n }
}

func WithReaderLogger(logger *slog.Logger) ReaderOption {
	return func(c *readerConfig) { c.Logger = logger }
}

// Open opens the archive at filePath.
//
// The returned Reader must be closed after use.
func Open(filePath string, opts ...ReaderOption) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	fileAccess := func(offset uint64, length uint64) ([]byte, error) {
		buffer := make([]byte, length)
		if _, err := file.ReadAt(buffer, int64(offset)); err != nil {
			return nil, err
		}
		return buffer, nil
	}
	r, err := newReader(fileAccess, file.Close, opts)
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// NewReader reads an archive through fileAccess (e.g. ranged HTTP requests).
func NewReader(fileAccess FileAccessFunc, opts ...ReaderOption) (*Reader, error) {
	return newReader(fileAccess, func() error { return nil }, opts)
}

func newReader(fileAccess FileAccessFunc, closer func() error, opts []ReaderOption) (*Reader, error) {
	config := readerConfig{
		DirectoryCacheSize: 64,
		Logger:             slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}

	headerData, err := fileAccess(0, spec.HeaderLength)
	if err != nil {
		return nil, err
	}
	header, err := spec.DeserializeHeader(headerData)
	if err != nil {
		return nil, err
	}
	tableData, err := fileAccess(header.MosaicTableOffset, header.MosaicTableLength)
	if err != nil {
		return nil, err
	}
	table, err := spec.DeserializeMosaicTable(tableData)
	if err != nil {
		return nil, err
	}
	dirCache, err := lru.New[uint64, spec.Directory](max(1, config.DirectoryCacheSize))
	if err != nil {
		return nil, err
	}
	return &Reader{
		fileAccess: fileAccess,
		fileCloser: closer,
		header:     header,
		table:      table,
		dirCache:   dirCache,
		logger:     config.Logger,
	}, nil
}

func (r *Reader) Close() error {
	return r.fileCloser()
}

// Header returns a copy of the archive header.
func (r *Reader) Header() spec.Header {
	return *r.header
}

// Mosaics returns the mosaics stored in the archive.
func (r *Reader) Mosaics() spec.MosaicTable {
	return r.table
}

func (r *Reader) ReadMetadata() ([]byte, error) {
	return r.fileAccess(r.header.MetadataOffset, r.header.MetadataLength)
}

func (r *Reader) readDirectory(dirOffset, dirLength uint64) (spec.Directory, error) {
	dirCompressed, err := r.fileAccess(dirOffset, dirLength)
	if err != nil {
		return nil, err
	}
	dirData, err := spec.Decompress(dirCompressed, r.header.InternalCompression)
	if err != nil {
		return nil, err
	}
	return spec.DeserializeDirectory(dirData)
}

func (r *Reader) readLeaf(dirOffset, dirLength uint64) (spec.Directory, error) {
	if dir, ok := r.dirCache.Get(dirOffset); ok {
		return dir, nil
	}
	dir, err := r.readDirectory(dirOffset, dirLength)
	if err != nil {
		return nil, err
	}
	r.dirCache.Add(dirOffset, dir)
	return dir, nil
}

// ReadLocation returns the location of the tile data, or a zero Location for a missing tile.
func (r *Reader) ReadLocation(tileID tile.ID) (tile.Location, error) {
	tileCode, ok := r.table.EncodeTileID(tileID)
	if !ok {
		return tile.Location{}, nil
	}
	dirEntries, err := r.readDirectory(r.header.RootOffset, r.header.RootLength)
	if err != nil {
		return tile.Location{}, err
	}
	for depth := 0; depth < 4; depth++ {
		entry, found := dirEntries.Find(tileCode)
		if !found {
			return tile.Location{}, nil
		}
		if entry.RunLength > 0 {
			return tile.Location{
				Offset: r.header.TileDataOffset + entry.Offset,
				Length: uint64(entry.Length),
			}, nil
		}
		dirEntries, err = r.readLeaf(r.header.LeafDirectoryOffset+entry.Offset, uint64(entry.Length))
		if err != nil {
			return tile.Location{}, err
		}
	}
	return tile.Location{}, fmt.Errorf("%w: directory nesting too deep", spec.ErrInvalidDirectory)
}

func (r *Reader) ReadTile(tileID tile.ID) ([]byte, error) {
	location, err := r.ReadLocation(tileID)
	if err != nil {
		return nil, err
	}
	return r.fileAccess(location.Offset, location.Length)
}

func (r *Reader) HasTile(tileID tile.ID) (bool, error) {
	location, err := r.ReadLocation(tileID)
	return location.Length > 0, err
}

func (r *Reader) VisitLocations(visitor func(tile.ID, tile.Location) error) error {
	var traverse func(uint64, uint64, bool) error
	traverse = func(dirOffset, dirLength uint64, root bool) error {
		var dirEntries spec.Directory
		var err error
		if root {
			dirEntries, err = r.readDirectory(dirOffset, dirLength)
		} else {
			dirEntries, err = r.readLeaf(dirOffset, dirLength)
		}
		if err != nil {
			return err
		}
		for _, entry := range dirEntries {
			if entry.RunLength == 0 {
				if err := traverse(r.header.LeafDirectoryOffset+entry.Offset, uint64(entry.Length), false); err != nil {
					return err
				}
				continue
			}
			location := tile.Location{
				Offset: r.header.TileDataOffset + entry.Offset,
				Length: uint64(entry.Length),
			}
			for i := range entry.RunLength {
				tileID, ok := r.table.DecodeTileID(entry.TileCode + uint64(i))
				if !ok {
					return fmt.Errorf("%w: tile code %d outside mosaic table", spec.ErrInvalidDirectory, entry.TileCode+uint64(i))
				}
				if err := visitor(tileID, location); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return traverse(r.header.RootOffset, r.header.RootLength, true)
}

func (r *Reader) VisitTiles(visitor func(tile.ID, []byte) error) error {
	return r.VisitLocations(func(tileID tile.ID, location tile.Location) error {
		tileData, err := r.fileAccess(location.Offset, location.Length)
		if err != nil {
			return err
		}
		return visitor(tileID, tileData)
	})
}

func (r *Reader) WriteMetadata([]byte) error { return tile.ErrReadOnly }

func (r *Reader) WriteTile(tile.ID, []byte) error { return tile.ErrReadOnly }

func (r *Reader) DeleteTile(tile.ID) error { return tile.ErrReadOnly }

func (r *Reader) DeleteTiles(string, string) error { return tile.ErrReadOnly }
