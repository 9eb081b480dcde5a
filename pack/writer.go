// Package pack reads and writes pack archives: single read-only files holding every
// tile of a store, clustered in Hilbert order per mosaic and deduplicated by content.
package pack

import (
	"bufio"
	"cmp"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/eak1mov/go-libpyramid/pack/spec"
	"github.com/eak1mov/go-libpyramid/tile"
)

type pendingEntry struct {
	tileID tile.ID
	offset uint64
	length uint32
}

// Writer implements tile.Writer and tile.Finalizer for pack archives.
type Writer struct {
	logger *slog.Logger
	file   *os.File
	header spec.Header

	tileWriter *bufio.Writer
	tileOffset uint64

	entries   []pendingEntry
	locations map[[16]byte]int // hash -> entry index
	extents   map[[2]string][2]uint32
}

type writerConfig struct {
	Metadata    []byte
	Compression spec.Compression
	Logger      *slog.Logger
}

type WriterOption func(*writerConfig)

func WithMetadata(metadata []byte) WriterOption {
	return func(c *writerConfig) { c.Metadata = metadata }
}

// WithCompression sets the compression of directories (gzip by default).
func WithCompression(compression spec.Compression) WriterOption {
	return func(c *writerConfig) { c.Compression = compression }
}

func WithLogger(logger *slog.Logger) WriterOption {
	return func(c *writerConfig) { c.Logger = logger }
}

// NewWriter creates the archive file. Finalize must be called before Close for the
// archive to be readable.
func NewWriter(filePath string, opts ...WriterOption) (w *Writer, err error) {
	config := writerConfig{
		Compression: spec.CompressionGzip,
		Logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	header := spec.Header{}
	offset := uint64(spec.HeaderRootDirMaxLength)

	_, err = file.Seek(int64(offset), io.SeekStart)
	if err != nil {
		return nil, err
	}

	if config.Metadata != nil {
		_, err := file.Write(config.Metadata)
		if err != nil {
			return nil, err
		}
		header.MetadataOffset = offset
		header.MetadataLength = uint64(len(config.Metadata))
		offset += header.MetadataLength
	}

	header.HeaderMagic = spec.HeaderMagicV1
	header.Clustered = true
	header.InternalCompression = config.Compression
	header.TileDataOffset = offset

	return &Writer{
		logger:     config.Logger,
		file:       file,
		header:     header,
		tileWriter: bufio.NewWriter(file),
		locations:  make(map[[16]byte]int),
		extents:    make(map[[2]string][2]uint32),
	}, nil
}

func (w *Writer) WriteTile(tileID tile.ID, tileData []byte) error {
	if len(tileData) == 0 {
		return nil
	}
	if !tileID.Valid() {
		return fmt.Errorf("libpyramid: invalid tile id %v", tileID)
	}
	if w.tileWriter == nil {
		return fmt.Errorf("libpyramid: write after finalize")
	}

	key := [2]string{tileID.Pyramid, tileID.Mosaic}
	extent := w.extents[key]
	w.extents[key] = [2]uint32{max(extent[0], tileID.Col), max(extent[1], tileID.Row)}

	digest := md5.Sum(tileData)
	if entryIdx, exists := w.locations[digest]; exists {
		w.entries = append(w.entries, pendingEntry{
			tileID: tileID,
			offset: w.entries[entryIdx].offset,
			length: w.entries[entryIdx].length,
		})
		return nil
	}

	if _, err := w.tileWriter.Write(tileData); err != nil {
		return err
	}
	w.locations[digest] = len(w.entries)
	w.entries = append(w.entries, pendingEntry{
		tileID: tileID,
		offset: w.tileOffset,
		length: uint32(len(tileData)),
	})
	w.tileOffset += uint64(len(tileData))
	return nil
}

func (w *Writer) Finalize() error {
	if w.tileWriter == nil {
		panic("libpyramid: finalize called twice")
	}

	w.logger.Debug("libpyramid: flush tiles")
	if err := w.tileWriter.Flush(); err != nil {
		return err
	}
	w.header.TileDataLength = w.tileOffset
	w.tileWriter = nil

	w.logger.Debug("libpyramid: encode", "tiles", len(w.entries), "mosaics", len(w.extents))
	table := spec.NewMosaicTable(w.extents)
	entries := make(spec.Directory, 0, len(w.entries))
	for _, e := range w.entries {
		code, ok := table.EncodeTileID(e.tileID)
		if !ok {
			return fmt.Errorf("libpyramid: cannot encode tile %v", e.tileID)
		}
		entries = append(entries, spec.Entry{TileCode: code, Offset: e.offset, Length: e.length, RunLength: 1})
	}
	slices.SortFunc(entries, func(a, b spec.Entry) int {
		return cmp.Compare(a.TileCode, b.TileCode)
	})
	for i := 1; i < len(entries); i++ {
		if entries[i].TileCode == entries[i-1].TileCode {
			tileID, _ := table.DecodeTileID(entries[i].TileCode)
			return fmt.Errorf("libpyramid: tile %v written twice", tileID)
		}
	}
	w.header.AddressedTilesCount = uint64(len(entries))
	w.header.TileContentsCount = uint64(len(w.locations))

	w.logger.Debug("libpyramid: compact")
	entries = entries.Compact()
	w.header.TileEntriesCount = uint64(len(entries))

	w.logger.Debug("libpyramid: serialize")
	rootBytes, leavesBytes, err := spec.SerializeAll(entries, w.header.InternalCompression)
	if err != nil {
		return err
	}

	w.logger.Debug("libpyramid: write mosaic table and leaves")
	tableOffset, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	tableBytes := table.Serialize()
	if _, err := w.file.Write(tableBytes); err != nil {
		return err
	}
	w.header.MosaicTableOffset = uint64(tableOffset)
	w.header.MosaicTableLength = uint64(len(tableBytes))

	if _, err := w.file.Write(leavesBytes); err != nil {
		return err
	}
	w.header.LeafDirectoryOffset = w.header.MosaicTableOffset + w.header.MosaicTableLength
	w.header.LeafDirectoryLength = uint64(len(leavesBytes))

	w.logger.Debug("libpyramid: write root")
	if _, err := w.file.Seek(spec.RootDirOffset, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(rootBytes); err != nil {
		return err
	}
	w.header.RootOffset = spec.RootDirOffset
	w.header.RootLength = uint64(len(rootBytes))

	w.logger.Debug("libpyramid: write header")
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(spec.SerializeHeader(&w.header)); err != nil {
		return err
	}

	err = w.file.Close()
	w.file = nil
	if err != nil {
		return err
	}

	w.logger.Debug("libpyramid: done!")
	return nil
}

func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
