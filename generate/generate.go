// Package generate computes pyramid tiles on demand from a coverage source.
package generate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/eak1mov/go-libpyramid/coverage"
	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/pyramid"
	"github.com/eak1mov/go-libpyramid/raster"
)

// Generator resamples a source into single tiles.
type Generator struct {
	source coverage.Reader
	model  raster.SampleModel
	svc    crs.Service
	fill   []float64
	interp raster.Interpolation
	logger *slog.Logger
}

type Option func(*Generator)

func WithCRSService(svc crs.Service) Option {
	return func(g *Generator) { g.svc = svc }
}

// WithFill overrides the no-data values of the source bands.
func WithFill(fill []float64) Option {
	return func(g *Generator) { g.fill = fill }
}

func WithInterpolation(interp raster.Interpolation) Option {
	return func(g *Generator) { g.interp = interp }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// New returns a generator producing tiles of the given sample model from source.
func New(source coverage.Reader, model raster.SampleModel, opts ...Option) *Generator {
	g := &Generator{
		source: source,
		model:  model,
		svc:    crs.Default,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FillValues returns the per-band values of blank tile pixels.
func (g *Generator) FillValues(ctx context.Context) ([]float64, error) {
	bands, err := g.source.SampleDimensions(ctx)
	if err != nil {
		return nil, err
	}
	return raster.FillValues(bands, g.model.Bands, g.fill), nil
}

// GenerateTile computes tile c of mosaic m in pyramid p. Tiles outside the source
// domain are blank. The returned tile is marked Empty when it holds only fill values;
// persisting it or not is up to the caller.
func (g *Generator) GenerateTile(ctx context.Context, p *pyramid.Pyramid, m *pyramid.Mosaic, c pyramid.TileCoord) (*pyramid.Tile, error) {
	if !m.Valid(c) {
		return nil, fmt.Errorf("%w: %v outside grid %v", pyramid.ErrInvalidTile, c, m.GridSize)
	}
	fill, err := g.FillValues(ctx)
	if err != nil {
		return nil, err
	}
	bounds := image.Rect(0, 0, m.TileSize.Width, m.TileSize.Height)
	dst := raster.NewFilled(bounds, g.model, fill)

	geometry := pyramid.TileGridGeometry(m, c)
	res := geometry.Resolution()
	cov, err := g.source.Read(ctx, coverage.ReadParams{
		Envelope:   geometry.Envelope(),
		CRS:        p.CRS,
		Resolution: res[:2],
	})
	switch {
	case errors.Is(err, coverage.ErrDisjointDomain):
		g.logger.Debug("libpyramid: blank tile outside source", "mosaic", m.ID, "tile", c)
	case err != nil:
		return nil, err
	case cov != nil:
		if src := sliceAt(cov, m); src != nil {
			if err := g.resample(ctx, dst, m, c, src, fill); err != nil {
				return nil, err
			}
		}
	}
	return &pyramid.Tile{Coord: c, Image: dst, Empty: dst.IsEmpty(fill)}, nil
}

func (g *Generator) resample(ctx context.Context, dst *raster.Raster, m *pyramid.Mosaic, c pyramid.TileCoord, src coverage.Gridded, fill []float64) error {
	h, err := src.GridGeometry().Horizontal()
	if err != nil {
		return err
	}
	crsToGrid, err := h.GridToCRS.Invert()
	if err != nil {
		return err
	}
	op, err := g.svc.FindOperation(m.CRS.Horizontal(), h.CRS)
	if err != nil {
		return err
	}
	toSource, err := crs.Concatenate(op, crsToGrid)
	if err != nil {
		return err
	}
	inverse, err := crs.Concatenate(pyramid.TileGridToCRS(m, c, geom.CellCorner), toSource)
	if err != nil {
		return err
	}

	img, err := src.Render(ctx)
	if err != nil {
		return err
	}
	extent := h.Extent.Rect()
	if img.Rect.Size() != extent.Size() {
		return fmt.Errorf("libpyramid: rendered %v for grid extent %v", img.Rect, extent)
	}
	return raster.Resample(dst, dst.Rect, img.Translate(extent.Min), inverse, g.interp, fill)
}

// sliceAt returns the gridded part of cov lying on the extra-axis position of m.
func sliceAt(cov coverage.Coverage, m *pyramid.Mosaic) coverage.Gridded {
	parts := coverage.Flatten(cov)
	for _, part := range parts {
		env := part.Envelope()
		match := true
		for i := 2; i < min(env.Dimension(), m.Dimension()); i++ {
			v := m.UpperLeft[i]
			tol := 1e-9 * max(1, math.Abs(v))
			if v < env.Min[i]-tol || v > env.Max[i]+tol {
				match = false
				break
			}
		}
		if match {
			return part
		}
	}
	return nil
}
