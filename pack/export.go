package pack

import (
	"context"
	"errors"

	"github.com/eak1mov/go-libpyramid/tile"
)

// ExportSource is the part of a tile store read by Export.
type ExportSource interface {
	tile.Visitor
	tile.MetadataStore
}

// Export copies every tile and the metadata of src into a new archive at filePath.
// It returns the number of tiles written. progress, if not nil, is called after every tile.
func Export(ctx context.Context, src ExportSource, filePath string, progress func(int), opts ...WriterOption) (n int, err error) {
	metadata, err := src.ReadMetadata()
	if err != nil {
		return 0, err
	}
	w, err := NewWriter(filePath, append([]WriterOption{WithMetadata(metadata)}, opts...)...)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, w.Close())
	}()

	err = src.VisitTiles(func(tileID tile.ID, tileData []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteTile(tileID, tileData); err != nil {
			return err
		}
		n++
		if progress != nil {
			progress(n)
		}
		return nil
	})
	if err != nil {
		return n, err
	}
	return n, w.Finalize()
}
