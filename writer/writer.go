// Package writer resamples coverages into every intersecting level of a pyramid store.
package writer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/eak1mov/go-libpyramid/coverage"
	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/pyramid"
	"github.com/eak1mov/go-libpyramid/raster"
)

// Params selects what a Write covers and how it samples the source.
type Params struct {
	// Envelope restricts the write. The zero value writes the whole coverage.
	Envelope      geom.Envelope
	Interpolation raster.Interpolation
}

// Writer writes coverages into the pyramids of a store.
type Writer struct {
	store    pyramid.Store
	svc      crs.Service
	fill     []float64
	workers  int
	progress func(done, total int)
	logger   *slog.Logger
}

type Option func(*Writer)

// WithWorkers sets the number of tiles resampled concurrently.
func WithWorkers(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.workers = n
		}
	}
}

func WithCRSService(svc crs.Service) Option {
	return func(w *Writer) { w.svc = svc }
}

// WithFill overrides the no-data values of the written coverage.
func WithFill(fill []float64) Option {
	return func(w *Writer) { w.fill = fill }
}

// WithProgress registers a callback invoked after every finished tile. It is called
// from the worker goroutines.
func WithProgress(fn func(done, total int)) Option {
	return func(w *Writer) { w.progress = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

func New(store pyramid.Store, opts ...Option) *Writer {
	w := &Writer{
		store:   store,
		svc:     crs.Default,
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write resamples cov into every tile of the store it intersects. Stacks are written
// slice by slice. Tiles left with only fill values are not stored.
func (w *Writer) Write(ctx context.Context, cov coverage.Coverage, params Params) error {
	parts := coverage.Flatten(cov)
	if len(parts) == 0 {
		return fmt.Errorf("libpyramid: nothing to write from %T", cov)
	}
	set, err := w.store.PyramidSet(ctx)
	if err != nil {
		return err
	}
	for _, c := range parts {
		if err := w.writeGridded(ctx, set, c, params); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) workingEnvelope(c coverage.Gridded, params Params) (geom.Envelope, error) {
	env := c.Envelope()
	if params.Envelope.Dimension() == 0 {
		return env, nil
	}
	request := params.Envelope
	if request.CRS == nil {
		request.CRS = env.CRS
	}
	target := env.CRS
	switch {
	case request.Dimension() == env.Dimension():
	case request.Dimension() == 2:
		target = env.CRS.Horizontal()
	default:
		return geom.Envelope{}, &coverage.DimensionMismatchError{Expected: env.Dimension(), Actual: request.Dimension()}
	}
	t, err := geom.TransformEnvelope(w.svc, request, target)
	if err != nil {
		return geom.Envelope{}, err
	}
	if !env.Intersects(t) {
		return geom.Envelope{}, fmt.Errorf("%w: %v and %v", coverage.ErrDisjointDomain, request, env)
	}
	return env.Intersection(t), nil
}

func (w *Writer) writeGridded(ctx context.Context, set *pyramid.PyramidSet, c coverage.Gridded, params Params) error {
	env, err := w.workingEnvelope(c, params)
	if err != nil {
		return err
	}
	geometry := c.GridGeometry()
	gen, err := NewTaskGenerator(w.svc, set, geometry, env)
	if err != nil {
		return err
	}
	if gen.Total() == 0 {
		w.logger.Debug("libpyramid: no tiles to write", "envelope", env)
		return nil
	}

	src, err := c.Render(ctx)
	if err != nil {
		return err
	}
	extent := geometry.Extent.Rect()
	if src.Rect.Size() != extent.Size() {
		return fmt.Errorf("libpyramid: rendered %v for grid extent %v", src.Rect, extent)
	}
	src = src.Translate(extent.Min)
	fill := raster.FillValues(c.SampleDimensions(), src.Bands(), w.fill)

	w.logger.Debug("libpyramid: write started", "tiles", gen.Total(), "workers", w.workers, "interpolation", params.Interpolation)

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for range min(w.workers, gen.Total()) {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				task, ok := gen.Next()
				if !ok {
					return nil
				}
				if err := w.run(gctx, task, src, params.Interpolation, fill); err != nil {
					return fmt.Errorf("libpyramid: write tile %v of mosaic %s: %w", task.Coord, task.Mosaic.ID, err)
				}
				n := done.Add(1)
				if w.progress != nil {
					w.progress(int(n), gen.Total())
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	w.logger.Debug("libpyramid: write finished", "tiles", done.Load())
	return nil
}

func (w *Writer) run(ctx context.Context, task Task, src *raster.Raster, interp raster.Interpolation, fill []float64) error {
	m := task.Mosaic
	bounds := image.Rect(0, 0, m.TileSize.Width, m.TileSize.Height)

	existing, err := w.store.ReadTile(ctx, m, task.Coord)
	if err != nil {
		return err
	}
	var dst *raster.Raster
	if existing != nil {
		img, err := existing.Load()
		if err != nil {
			return err
		}
		if img.Rect.Size() != bounds.Size() {
			return fmt.Errorf("%w: stored tile is %v, want %v", pyramid.ErrInvalidTile, img.Rect.Size(), bounds.Size())
		}
		dst = img.Translate(image.Point{})
	} else {
		dst = raster.NewFilled(bounds, src.Model, fill)
	}

	inverse, err := task.Inverse()
	if err != nil {
		return err
	}
	if err := raster.Resample(dst, task.Region, src, inverse, interp, fill); err != nil {
		return err
	}

	if dst.IsEmpty(fill) {
		if existing == nil {
			return nil
		}
		return w.store.DeleteTile(ctx, m, task.Coord)
	}
	err = w.store.WriteTile(ctx, m, task.Coord, dst)
	if errors.Is(err, pyramid.ErrNotFound) {
		w.logger.Warn("libpyramid: mosaic removed during write", "mosaic", m.ID)
	}
	return err
}
