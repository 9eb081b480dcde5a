package pyramid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/raster"
	"github.com/eak1mov/go-libpyramid/tile"
)

var (
	ErrNotFound      = errors.New("libpyramid: not found")
	ErrInvalidTile   = errors.New("libpyramid: invalid tile")
	ErrInvalidMosaic = errors.New("libpyramid: invalid mosaic")
	ErrReadOnly      = tile.ErrReadOnly
)

// MosaicSpec describes a mosaic to create.
type MosaicSpec struct {
	UpperLeft []float64 `yaml:"upper_left"`
	GridSize  Size      `yaml:"grid_size"`
	TileSize  Size      `yaml:"tile_size"`
	Scale     float64   `yaml:"scale"`
}

// Store is the contract of a pyramid tile store. Implementations must be safe for
// concurrent use.
//
// ReadTile returns a nil tile and a nil error for missing tiles. WriteTile of an empty
// raster (only no-data) is not special-cased by stores; writers delete such tiles instead.
type Store interface {
	PyramidSet(ctx context.Context) (*PyramidSet, error)
	CreatePyramid(ctx context.Context, c crs.CRS) (*Pyramid, error)
	CreateMosaic(ctx context.Context, pyramidID string, spec MosaicSpec) (*Mosaic, error)
	DeletePyramid(ctx context.Context, pyramidID string) error
	DeleteMosaic(ctx context.Context, pyramidID, mosaicID string) error
	ReadTile(ctx context.Context, m *Mosaic, c TileCoord) (*Tile, error)
	HasTile(ctx context.Context, m *Mosaic, c TileCoord) (bool, error)
	WriteTile(ctx context.Context, m *Mosaic, c TileCoord, r *raster.Raster) error
	DeleteTile(ctx context.Context, m *Mosaic, c TileCoord) error
	Close() error
}

// IDGenerator returns a new opaque pyramid or mosaic id.
type IDGenerator func() string

type storeConfig struct {
	logger     *slog.Logger
	ids        IDGenerator
	codec      raster.Codec
	cacheBytes int
}

type Option func(*storeConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

func WithIDGenerator(ids IDGenerator) Option {
	return func(c *storeConfig) {
		c.ids = ids
	}
}

// WithCodec selects the encoding of tiles written to a byte backend.
func WithCodec(codec raster.Codec) Option {
	return func(c *storeConfig) {
		c.codec = codec
	}
}

// WithTileCache enables a cache of encoded tiles of the given size in bytes. Sizes
// below 512KiB are raised to 512KiB.
func WithTileCache(bytes int) Option {
	return func(c *storeConfig) {
		c.cacheBytes = bytes
	}
}

func newStoreConfig(opts []Option) storeConfig {
	c := storeConfig{
		logger: slog.New(slog.DiscardHandler),
		ids:    uuid.NewString,
		codec:  raster.Codec{Compression: raster.CompressionZstd},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func validateSpec(c crs.CRS, spec MosaicSpec) error {
	switch {
	case len(spec.UpperLeft) != c.Dimension():
		return fmt.Errorf("%w: upper-left has %d ordinates, CRS %s has %d",
			ErrInvalidMosaic, len(spec.UpperLeft), c.Name(), c.Dimension())
	case spec.GridSize.Width <= 0 || spec.GridSize.Height <= 0:
		return fmt.Errorf("%w: grid size %v", ErrInvalidMosaic, spec.GridSize)
	case spec.TileSize.Width <= 0 || spec.TileSize.Height <= 0:
		return fmt.Errorf("%w: tile size %v", ErrInvalidMosaic, spec.TileSize)
	case !(spec.Scale > 0):
		return fmt.Errorf("%w: scale %v", ErrInvalidMosaic, spec.Scale)
	}
	return nil
}

func validateTile(m *Mosaic, c TileCoord, r *raster.Raster) error {
	if !m.Valid(c) {
		return fmt.Errorf("%w: %v outside %v grid of mosaic %s", ErrInvalidTile, c, m.GridSize, m.ID)
	}
	if r == nil {
		return fmt.Errorf("%w: nil raster", ErrInvalidTile)
	}
	if size := r.Rect.Size(); size.X != m.TileSize.Width || size.Y != m.TileSize.Height {
		return fmt.Errorf("%w: raster size %v, mosaic tile size %v", ErrInvalidTile, size, m.TileSize)
	}
	return nil
}

func newMosaic(p *Pyramid, id string, spec MosaicSpec) *Mosaic {
	return &Mosaic{
		ID:        id,
		PyramidID: p.ID,
		CRS:       p.CRS,
		UpperLeft: append([]float64(nil), spec.UpperLeft...),
		GridSize:  spec.GridSize,
		TileSize:  spec.TileSize,
		Scale:     spec.Scale,
	}
}

// FindMosaic resolves a mosaic by ids through the pyramid set of s.
func FindMosaic(ctx context.Context, s Store, pyramidID, mosaicID string) (*Mosaic, error) {
	set, err := s.PyramidSet(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := set.Pyramid(pyramidID)
	if !ok {
		return nil, fmt.Errorf("%w: pyramid %q", ErrNotFound, pyramidID)
	}
	m, ok := p.Mosaic(mosaicID)
	if !ok {
		return nil, fmt.Errorf("%w: mosaic %q of pyramid %q", ErrNotFound, mosaicID, pyramidID)
	}
	return m, nil
}
