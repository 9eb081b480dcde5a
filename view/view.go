// Package view implements a lazily populated raster over a rectangular range of tiles of
// one mosaic.
package view

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/eak1mov/go-libpyramid/coverage"
	"github.com/eak1mov/go-libpyramid/pyramid"
	"github.com/eak1mov/go-libpyramid/raster"
)

var ErrNoTiles = errors.New("libpyramid: mosaic has no tile")

// RenderedView exposes the tiles [Tiles.Min, Tiles.Max) of a mosaic as one raster whose
// origin is the upper-left corner of tile Tiles.Min.
//
// Loaded tiles are kept in a fixed-capacity LRU cache. When two callers load the same
// tile concurrently, the first one to finish populates the cache and both receive its
// raster. Rasters returned by Tile are shared and must not be modified.
type RenderedView struct {
	store  pyramid.Store
	mosaic *pyramid.Mosaic
	tiles  image.Rectangle
	fill   []float64
	cache  *lru.Cache[pyramid.TileCoord, *raster.Raster]
	logger *slog.Logger

	mu    sync.Mutex
	model *raster.SampleModel
}

var _ coverage.Image = (*RenderedView)(nil)

type config struct {
	CacheSize int
	Fill      []float64
	Model     *raster.SampleModel
	Logger    *slog.Logger
}

type Option func(*config)

// WithCacheSize sets the number of cached tiles (default 64).
func WithCacheSize(n int) Option {
	return func(c *config) { c.CacheSize = n }
}

// WithFill sets the per-band value of blank tiles (default 0).
func WithFill(fill []float64) Option {
	return func(c *config) { c.Fill = fill }
}

// WithSampleModel sets the sample model instead of deriving it from the first tile.
func WithSampleModel(model raster.SampleModel) Option {
	return func(c *config) { c.Model = &model }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.Logger = logger }
}

// New returns a view over the given tile range of m, clipped to the mosaic grid.
func New(store pyramid.Store, m *pyramid.Mosaic, tiles image.Rectangle, opts ...Option) (*RenderedView, error) {
	cfg := config{
		CacheSize: 64,
		Logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	tiles = tiles.Intersect(image.Rect(0, 0, m.GridSize.Width, m.GridSize.Height))
	if tiles.Empty() {
		return nil, fmt.Errorf("%w: tile range %v outside grid %v", coverage.ErrDisjointDomain, tiles, m.GridSize)
	}
	cache, err := lru.New[pyramid.TileCoord, *raster.Raster](max(1, cfg.CacheSize))
	if err != nil {
		return nil, err
	}
	return &RenderedView{
		store:  store,
		mosaic: m,
		tiles:  tiles,
		fill:   cfg.Fill,
		cache:  cache,
		logger: cfg.Logger,
		model:  cfg.Model,
	}, nil
}

func (v *RenderedView) Mosaic() *pyramid.Mosaic {
	return v.mosaic
}

// Tiles returns the tile index range of the view.
func (v *RenderedView) Tiles() image.Rectangle {
	return v.tiles
}

func (v *RenderedView) Bounds() image.Rectangle {
	return image.Rect(0, 0, v.tiles.Dx()*v.mosaic.TileSize.Width, v.tiles.Dy()*v.mosaic.TileSize.Height)
}

// SampleModel returns the model of the first present tile of the mosaic. It fails with
// ErrNoTiles when the mosaic has no tile.
func (v *RenderedView) SampleModel(ctx context.Context) (raster.SampleModel, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.model != nil {
		return *v.model, nil
	}

	m := v.mosaic
	extent, err := pyramid.DataExtent(ctx, v.store, m)
	if err != nil {
		return raster.SampleModel{}, err
	}
	tiles := m.TileRange(extent)
	for col := tiles.Min.X; col < tiles.Max.X; col++ {
		t, err := v.store.ReadTile(ctx, m, pyramid.TileCoord{Col: col, Row: tiles.Min.Y})
		if err != nil {
			return raster.SampleModel{}, err
		}
		if t == nil {
			continue
		}
		r, err := t.Load()
		if err != nil {
			return raster.SampleModel{}, err
		}
		v.model = &r.Model
		v.logger.Debug("libpyramid: view sample model", "mosaic", m.ID, "model", r.Model)
		return r.Model, nil
	}
	return raster.SampleModel{}, fmt.Errorf("%w: %s", ErrNoTiles, m.ID)
}

func (v *RenderedView) origin(c pyramid.TileCoord) image.Point {
	return image.Pt(
		(c.Col-v.tiles.Min.X)*v.mosaic.TileSize.Width,
		(c.Row-v.tiles.Min.Y)*v.mosaic.TileSize.Height,
	)
}

// Tile returns the tile (col, row) of the mosaic placed in view coordinates. Missing
// tiles are blank rasters filled with the fill values.
func (v *RenderedView) Tile(ctx context.Context, col, row int) (*raster.Raster, error) {
	c := pyramid.TileCoord{Col: col, Row: row}
	if !image.Pt(col, row).In(v.tiles) {
		return nil, fmt.Errorf("%w: tile %v outside view %v", pyramid.ErrInvalidTile, c, v.tiles)
	}
	if r, ok := v.cache.Get(c); ok {
		return r, nil
	}

	r, err := v.load(ctx, c)
	if err != nil {
		return nil, err
	}
	if prev, ok, _ := v.cache.PeekOrAdd(c, r); ok {
		return prev, nil
	}
	return r, nil
}

func (v *RenderedView) load(ctx context.Context, c pyramid.TileCoord) (*raster.Raster, error) {
	m := v.mosaic
	bounds := image.Rectangle{Min: v.origin(c), Max: v.origin(c).Add(image.Pt(m.TileSize.Width, m.TileSize.Height))}

	t, err := v.store.ReadTile(ctx, m, c)
	if err != nil {
		return nil, err
	}
	if t == nil {
		model, err := v.SampleModel(ctx)
		if err != nil {
			return nil, err
		}
		return raster.NewFilled(bounds, model, v.fill), nil
	}
	r, err := t.Load()
	if err != nil {
		return nil, fmt.Errorf("libpyramid: load tile %v of mosaic %s: %w", c, m.ID, err)
	}
	if r.Rect.Size() != bounds.Size() {
		return nil, fmt.Errorf("%w: tile %v has size %v, want %v", pyramid.ErrInvalidTile, c, r.Rect.Size(), bounds.Size())
	}
	return r.Translate(bounds.Min), nil
}

// CopyData returns the samples of r, clipped to the view bounds. Only the tiles
// intersecting r are loaded.
func (v *RenderedView) CopyData(ctx context.Context, r image.Rectangle) (*raster.Raster, error) {
	r = r.Intersect(v.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("%w: region outside view", coverage.ErrDisjointDomain)
	}
	model, err := v.SampleModel(ctx)
	if err != nil {
		return nil, err
	}
	dst := raster.NewFilled(r, model, v.fill)

	tw, th := v.mosaic.TileSize.Width, v.mosaic.TileSize.Height
	for row := r.Min.Y / th; row < (r.Max.Y+th-1)/th; row++ {
		for col := r.Min.X / tw; col < (r.Max.X+tw-1)/tw; col++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			t, err := v.Tile(ctx, v.tiles.Min.X+col, v.tiles.Min.Y+row)
			if err != nil {
				return nil, err
			}
			if err := dst.Blit(t); err != nil {
				return nil, err
			}
		}
	}
	return dst, nil
}
