// Package reader implements the read pipelines: PyramidReader assembles coverages from
// the tiles of a pyramid store, ReadGrid and GridReader read any gridded SliceSource.
package reader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eak1mov/go-libpyramid/coverage"
	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/finder"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/pyramid"
	"github.com/eak1mov/go-libpyramid/raster"
	"github.com/eak1mov/go-libpyramid/view"
)

// PyramidReader reads coverages from the pyramids of a store.
type PyramidReader struct {
	store     pyramid.Store
	finder    finder.Finder
	svc       crs.Service
	bands     []raster.SampleDimension
	fill      []float64
	tolerance float64
	workers   int
	cacheSize int
	logger    *slog.Logger
}

var _ coverage.Reader = (*PyramidReader)(nil)

type Option func(*PyramidReader)

func WithFinder(f finder.Finder) Option {
	return func(r *PyramidReader) { r.finder = f }
}

func WithCRSService(svc crs.Service) Option {
	return func(r *PyramidReader) { r.svc = svc }
}

// WithSampleDimensions describes the bands of the stored tiles.
func WithSampleDimensions(bands []raster.SampleDimension) Option {
	return func(r *PyramidReader) { r.bands = bands }
}

// WithFill overrides the no-data values of the sample dimensions.
func WithFill(fill []float64) Option {
	return func(r *PyramidReader) { r.fill = fill }
}

// WithTolerance sets the relative tolerance used to match requested resolutions.
func WithTolerance(tolerance float64) Option {
	return func(r *PyramidReader) { r.tolerance = tolerance }
}

// WithWorkers sets the number of concurrent tile fetches of eager reads.
func WithWorkers(n int) Option {
	return func(r *PyramidReader) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithViewCacheSize sets the tile cache capacity of deferred coverages.
func WithViewCacheSize(n int) Option {
	return func(r *PyramidReader) {
		if n > 0 {
			r.cacheSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *PyramidReader) { r.logger = logger }
}

func NewPyramidReader(store pyramid.Store, opts ...Option) *PyramidReader {
	r := &PyramidReader{
		store:     store,
		finder:    finder.Default,
		svc:       crs.Default,
		tolerance: 1e-6,
		workers:   min(runtime.GOMAXPROCS(0), 8),
		cacheSize: 64,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *PyramidReader) fillValues(bands int) []float64 {
	return raster.FillValues(r.bands, bands, r.fill)
}

// GridGeometry returns the geometry of the first pyramid at its finest scale.
func (r *PyramidReader) GridGeometry(ctx context.Context) (geom.GridGeometry, error) {
	set, err := r.store.PyramidSet(ctx)
	if err != nil {
		return geom.GridGeometry{}, err
	}
	p, err := r.finder.FindPyramid(set, nil)
	if err != nil {
		return geom.GridGeometry{}, err
	}
	if len(p.Mosaics) == 0 {
		return geom.GridGeometry{}, fmt.Errorf("%w: pyramid %s has no mosaic", pyramid.ErrNotFound, p.ID)
	}
	return nativeGeometry(p), nil
}

// nativeGeometry covers the pyramid envelope at the finest scale.
func nativeGeometry(p *pyramid.Pyramid) geom.GridGeometry {
	env := p.Envelope()
	scale := p.Mosaics[0].Scale
	size := image.Pt(
		max(1, int(math.Ceil(env.Span(0)/scale-1e-9))),
		max(1, int(math.Ceil(env.Span(1)/scale-1e-9))),
	)
	h := geom.NewAffine2D(scale, 0, 0, -scale, env.Min[0], env.Max[1])
	dim := p.CRS.Dimension()
	gridToCRS := h
	if dim > 2 {
		gridToCRS = h.Extend(env.Min[2:])
	}
	return geom.GridGeometry{
		Extent:    geom.NewGridExtent(image.Rectangle{Max: size}, dim),
		GridToCRS: gridToCRS,
		CRS:       p.CRS,
	}
}

func (r *PyramidReader) SampleDimensions(ctx context.Context) ([]raster.SampleDimension, error) {
	return r.bands, nil
}

// Read assembles the coverage selected by params. It returns a Stack when the request
// spans several slices of a data cube, and a nil coverage with a nil error when the
// request intersects the pyramid but no tile is present.
func (r *PyramidReader) Read(ctx context.Context, params coverage.ReadParams) (coverage.Coverage, error) {
	set, err := r.store.PyramidSet(ctx)
	if err != nil {
		return nil, err
	}
	if len(set.Pyramids) == 0 {
		return nil, fmt.Errorf("%w: store has no pyramid", coverage.ErrDisjointDomain)
	}

	target := params.CRS
	if target == nil {
		target = params.Envelope.CRS
	}
	p, err := r.finder.FindPyramid(set, target)
	if err != nil {
		return nil, err
	}
	if target == nil {
		target = p.CRS
	}

	request, err := r.requestEnvelope(p, params, target)
	if err != nil {
		return nil, err
	}
	if n := len(params.Resolution); n != 0 && n != 2 && n != request.Dimension() {
		return nil, &coverage.DimensionMismatchError{Expected: request.Dimension(), Actual: n}
	}
	native, err := r.nativeEnvelope(p, request)
	if err != nil {
		return nil, err
	}

	var resolution []float64
	if len(params.Resolution) > 0 {
		resolution, err = geom.ConvertResolution(r.svc, request.Horizontal(), params.Resolution[:2], p.CRS.Horizontal())
		if err != nil {
			return nil, err
		}
	}

	mosaics, err := r.finder.FindMosaics(p, resolution, r.tolerance, native)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("libpyramid: read", "pyramid", p.ID, "envelope", native, "resolution", resolution, "mosaics", len(mosaics))
	switch len(mosaics) {
	case 0:
		return nil, fmt.Errorf("%w: no mosaic of pyramid %s intersects %v", coverage.ErrDisjointDomain, p.ID, native)
	case 1:
		return r.readMosaic(ctx, mosaics[0], native, params.Deferred)
	}
	return r.readCube(ctx, p.CRS.Dimension()-1, mosaics, native, params.Deferred)
}

// requestEnvelope resolves the envelope of params in the target CRS and checks its
// dimension against the pyramid.
func (r *PyramidReader) requestEnvelope(p *pyramid.Pyramid, params coverage.ReadParams, target crs.CRS) (geom.Envelope, error) {
	env := params.Envelope
	switch {
	case env.Dimension() > 0:
		if env.CRS == nil {
			env.CRS = target
		}
	case !crs.Equal(target, p.CRS):
		source := p.Envelope()
		if target.Dimension() != p.CRS.Dimension() {
			source = source.Horizontal()
		}
		transformed, err := geom.TransformEnvelope(r.svc, source, target)
		if err != nil {
			return geom.Envelope{}, err
		}
		env = transformed
	default:
		env = p.Envelope()
	}
	if env.Dimension() != 2 && env.Dimension() != p.CRS.Dimension() {
		return geom.Envelope{}, &coverage.DimensionMismatchError{Expected: p.CRS.Dimension(), Actual: env.Dimension()}
	}
	return env, nil
}

// nativeEnvelope returns the request expressed in the pyramid CRS and clipped to the
// pyramid envelope. Extra axes missing from a 2-D request span the whole pyramid.
func (r *PyramidReader) nativeEnvelope(p *pyramid.Pyramid, request geom.Envelope) (geom.Envelope, error) {
	full := p.Envelope()
	var native geom.Envelope
	if request.Dimension() == p.CRS.Dimension() {
		env, err := geom.TransformEnvelope(r.svc, request, p.CRS)
		if err != nil {
			return geom.Envelope{}, err
		}
		native = env
	} else {
		env, err := geom.TransformEnvelope(r.svc, request, p.CRS.Horizontal())
		if err != nil {
			return geom.Envelope{}, err
		}
		native = full.Clone()
		copy(native.Min, env.Min)
		copy(native.Max, env.Max)
	}
	if !full.Intersects(native) {
		return geom.Envelope{}, fmt.Errorf("%w: %v and %v", coverage.ErrDisjointDomain, request, full)
	}
	return full.Intersection(native), nil
}

// readCube stacks the mosaics along axis, recursing into lower axes down to axis 2.
func (r *PyramidReader) readCube(ctx context.Context, axis int, mosaics []*pyramid.Mosaic, env geom.Envelope, deferred bool) (coverage.Coverage, error) {
	if axis < 2 {
		if len(mosaics) > 1 {
			r.logger.Warn("libpyramid: several mosaics at the same position", "mosaics", len(mosaics))
		}
		return r.readMosaic(ctx, mosaics[0], env, deferred)
	}

	groups := make(map[float64][]*pyramid.Mosaic)
	for _, m := range mosaics {
		groups[m.UpperLeft[axis]] = append(groups[m.UpperLeft[axis]], m)
	}
	values := make([]float64, 0, len(groups))
	for v := range groups {
		values = append(values, v)
	}
	slices.Sort(values)

	children := make([]coverage.Coverage, len(values))
	for i, v := range values {
		child, err := r.readCube(ctx, axis-1, groups[v], env, deferred)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}
	all, err := coverage.NewSlices(values, children)
	if err != nil {
		return nil, err
	}
	stack := &coverage.Stack{Axis: axis}
	for _, s := range all {
		if s.Coverage != nil {
			stack.Slices = append(stack.Slices, s)
		}
	}
	if len(stack.Slices) == 0 {
		return nil, nil
	}
	return stack, nil
}

// readMosaic reads the tiles of m covering env, a pyramid CRS envelope.
func (r *PyramidReader) readMosaic(ctx context.Context, m *pyramid.Mosaic, env geom.Envelope, deferred bool) (coverage.Coverage, error) {
	window := m.PixelWindow(env)
	if window.Empty() {
		return nil, fmt.Errorf("%w: %v outside mosaic %s", coverage.ErrDisjointDomain, env, m.ID)
	}
	tiles := m.TileRange(window)
	dim := max(2, m.Dimension())
	bounds := image.Rect(0, 0, tiles.Dx()*m.TileSize.Width, tiles.Dy()*m.TileSize.Height)
	geometry := geom.GridGeometry{
		Extent:    geom.NewGridExtent(bounds, dim),
		GridToCRS: pyramid.TileGridToCRSND(m, pyramid.TileCoord{Col: tiles.Min.X, Row: tiles.Min.Y}, dim),
		CRS:       m.CRS,
	}

	if deferred {
		opts := []view.Option{view.WithCacheSize(r.cacheSize), view.WithLogger(r.logger)}
		if len(r.bands) > 0 || len(r.fill) > 0 {
			opts = append(opts, view.WithFill(r.fillValues(max(len(r.bands), len(r.fill)))))
		}
		v, err := view.New(r.store, m, tiles, opts...)
		if err != nil {
			return nil, err
		}
		return &coverage.RenderedCoverage{Geometry: geometry, Bands: r.bands, Image: v}, nil
	}

	dst, err := r.assemble(ctx, m, tiles, bounds)
	if err != nil || dst == nil {
		return nil, err
	}
	return &coverage.GridCoverage{Geometry: geometry, Bands: r.bands, Raster: dst}, nil
}

// assemble fetches the present tiles of the range with a pool of workers and blits
// them into one raster. It returns nil when no tile is present.
func (r *PyramidReader) assemble(ctx context.Context, m *pyramid.Mosaic, tiles, bounds image.Rectangle) (*raster.Raster, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	coords := make(chan pyramid.TileCoord)
	g.Go(func() error {
		defer close(coords)
		for row := tiles.Min.Y; row < tiles.Max.Y; row++ {
			for col := tiles.Min.X; col < tiles.Max.X; col++ {
				select {
				case coords <- pyramid.TileCoord{Col: col, Row: row}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		return nil
	})

	loaded := make(chan *raster.Raster)
	var workers sync.WaitGroup
	for range max(1, r.workers) {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for c := range coords {
				t, err := r.fetch(gctx, m, c)
				if err != nil {
					return err
				}
				if t == nil {
					continue
				}
				origin := image.Pt((c.Col-tiles.Min.X)*m.TileSize.Width, (c.Row-tiles.Min.Y)*m.TileSize.Height)
				select {
				case loaded <- t.Translate(origin):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(loaded)
	}()

	var dst *raster.Raster
	var blitErr error
	for t := range loaded {
		if blitErr != nil {
			continue
		}
		if dst == nil {
			dst = raster.NewFilled(bounds, t.Model, r.fillValues(t.Model.Bands))
		}
		if err := dst.Blit(t); err != nil {
			blitErr = err
			cancel()
		}
	}
	err := g.Wait()
	if blitErr != nil {
		return nil, blitErr
	}
	if err != nil {
		return nil, err
	}
	return dst, nil
}

// fetch loads one tile. Decode failures are logged and the tile is skipped, except
// for unknown encodings which fail the read.
func (r *PyramidReader) fetch(ctx context.Context, m *pyramid.Mosaic, c pyramid.TileCoord) (*raster.Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := r.store.ReadTile(ctx, m, c)
	if err != nil || t == nil {
		return nil, err
	}
	img, err := t.Load()
	if errors.Is(err, raster.ErrUnknownCodec) {
		return nil, err
	}
	if err != nil {
		r.logger.Warn("libpyramid: tile skipped", "mosaic", m.ID, "tile", c, "error", err)
		return nil, nil
	}
	if size := img.Rect.Size(); size.X != m.TileSize.Width || size.Y != m.TileSize.Height {
		r.logger.Warn("libpyramid: tile skipped", "mosaic", m.ID, "tile", c, "size", size)
		return nil, nil
	}
	return img, nil
}
