package reader

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/eak1mov/go-libpyramid/coverage"
	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/raster"
)

// SliceSource is a gridded source able to read one window at a time.
type SliceSource interface {
	GridGeometry() geom.GridGeometry
	SampleDimensions() []raster.SampleDimension
	// ReadSlice returns the cells [lower, upper) of the grid, keeping one cell every
	// subsampling[i] along each axis. Extra axes span exactly one cell. The returned
	// raster starts at (0, 0).
	ReadSlice(ctx context.Context, lower, upper, subsampling []int) (*raster.Raster, error)
}

// ReadGrid reads the part of src selected by params. The horizontal window is read at
// the integer subsampling closest to the requested resolution without exceeding it.
// When the request spans several cells of an extra axis, the result is a Stack with one
// slice per cell.
func ReadGrid(ctx context.Context, svc crs.Service, src SliceSource, params coverage.ReadParams) (coverage.Coverage, error) {
	native := src.GridGeometry()
	req := geom.ReadRequest{Service: svc, Native: native}

	request := params.Envelope
	if request.Dimension() == 0 {
		request = native.Envelope()
	}
	if request.CRS == nil {
		request.CRS = native.CRS
	}
	clipped, err := req.IntersectedEnvelope(request)
	if err != nil {
		return nil, err
	}
	window, err := req.SourcePixelWindow(clipped)
	if err != nil {
		return nil, err
	}

	step := image.Pt(1, 1)
	nativeRes := native.Resolution()
	if len(params.Resolution) >= 2 {
		res, err := geom.ConvertResolution(svc, request.Horizontal(), params.Resolution[:2], native.CRS.Horizontal())
		if err != nil {
			return nil, err
		}
		step.X = max(1, int(math.Floor(res[0]/nativeRes[0]+1e-9)))
		step.Y = max(1, int(math.Floor(res[1]/nativeRes[1]+1e-9)))
	}
	size := req.DestinationImageSize(window, []float64{nativeRes[0] * float64(step.X), nativeRes[1] * float64(step.Y)})
	window.Max = window.Min.Add(image.Pt(size.X*step.X, size.Y*step.Y))

	g := gridRead{src: src, req: req, native: native, window: window, step: step, size: size}
	cells, err := g.extraCells(clipped)
	if err != nil {
		return nil, err
	}
	lower := make([]int, native.Dimension())
	return g.read(ctx, native.Dimension()-1, cells, lower, clipped)
}

type gridRead struct {
	src    SliceSource
	req    geom.ReadRequest
	native geom.GridGeometry
	window image.Rectangle
	step   image.Point
	size   image.Point
}

// extraCells returns, for every extra axis, the cell range [lo, hi) selected by env.
func (g gridRead) extraCells(env geom.Envelope) ([][2]int, error) {
	n := g.native.Dimension()
	cells := make([][2]int, n)
	for axis := 2; axis < n; axis++ {
		low, high := g.native.Extent.Low[axis], g.native.Extent.High[axis]
		scale := g.native.GridToCRS.At(axis, axis)
		offset := g.native.GridToCRS.Translation(axis)
		if scale == 0 {
			cells[axis] = [2]int{low, high}
			continue
		}
		a := (env.Min[axis] - offset) / scale
		b := (env.Max[axis] - offset) / scale
		lo := max(low, int(math.Ceil(math.Min(a, b)-1e-9)))
		hi := min(high, int(math.Floor(math.Max(a, b)+1e-9))+1)
		if lo >= hi {
			return nil, fmt.Errorf("%w: no cell of axis %d in %v", coverage.ErrDisjointDomain, axis, env)
		}
		cells[axis] = [2]int{lo, hi}
	}
	return cells, nil
}

// read recurses over the extra axes from the highest to axis 2.
func (g gridRead) read(ctx context.Context, axis int, cells [][2]int, lower []int, env geom.Envelope) (coverage.Coverage, error) {
	if axis < 2 {
		return g.readSlice(ctx, lower, env)
	}
	var values []float64
	var children []coverage.Coverage
	for k := cells[axis][0]; k < cells[axis][1]; k++ {
		lower[axis] = k
		value := g.native.GridToCRS.At(axis, axis)*float64(k) + g.native.GridToCRS.Translation(axis)
		sliceEnv := env.Clone()
		sliceEnv.Min[axis], sliceEnv.Max[axis] = value, value
		child, err := g.read(ctx, axis-1, cells, lower, sliceEnv)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
		children = append(children, child)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	slices, err := coverage.NewSlices(values, children)
	if err != nil {
		return nil, err
	}
	return &coverage.Stack{Axis: axis, Slices: slices}, nil
}

func (g gridRead) readSlice(ctx context.Context, cell []int, env geom.Envelope) (coverage.Coverage, error) {
	n := len(cell)
	lower := make([]int, n)
	upper := make([]int, n)
	sub := make([]int, n)
	lower[0], lower[1] = g.window.Min.X, g.window.Min.Y
	upper[0], upper[1] = g.window.Max.X, g.window.Max.Y
	sub[0], sub[1] = g.step.X, g.step.Y
	for i := 2; i < n; i++ {
		lower[i], upper[i], sub[i] = cell[i], cell[i]+1, 1
	}
	r, err := g.src.ReadSlice(ctx, lower, upper, sub)
	if err != nil {
		return nil, err
	}
	geometry, err := g.req.DestinationGridGeometry(g.window, g.size, env)
	if err != nil {
		return nil, err
	}
	return &coverage.GridCoverage{Geometry: geometry, Bands: g.src.SampleDimensions(), Raster: r}, nil
}

// GridReader is a coverage.Reader over a SliceSource.
type GridReader struct {
	src SliceSource
	svc crs.Service
}

var _ coverage.Reader = (*GridReader)(nil)

func NewGridReader(src SliceSource, svc crs.Service) *GridReader {
	if svc == nil {
		svc = crs.Default
	}
	return &GridReader{src: src, svc: svc}
}

func (r *GridReader) GridGeometry(context.Context) (geom.GridGeometry, error) {
	return r.src.GridGeometry(), nil
}

func (r *GridReader) SampleDimensions(context.Context) ([]raster.SampleDimension, error) {
	return r.src.SampleDimensions(), nil
}

func (r *GridReader) Read(ctx context.Context, params coverage.ReadParams) (coverage.Coverage, error) {
	return ReadGrid(ctx, r.svc, r.src, params)
}

// MemorySource is a SliceSource over in-memory rasters: one raster per cell of the
// extra axes, axis 2 varying fastest. Every raster covers the horizontal extent.
type MemorySource struct {
	Geometry geom.GridGeometry
	Bands    []raster.SampleDimension
	Rasters  []*raster.Raster
}

var _ SliceSource = (*MemorySource)(nil)

// NewMemorySource returns a horizontal source over one raster.
func NewMemorySource(c crs.CRS, gridToCRS *geom.Affine, r *raster.Raster, bands []raster.SampleDimension) *MemorySource {
	return &MemorySource{
		Geometry: geom.NewGridGeometry2D(c, r.Rect, gridToCRS),
		Bands:    bands,
		Rasters:  []*raster.Raster{r},
	}
}

func (s *MemorySource) GridGeometry() geom.GridGeometry            { return s.Geometry }
func (s *MemorySource) SampleDimensions() []raster.SampleDimension { return s.Bands }

func (s *MemorySource) ReadSlice(ctx context.Context, lower, upper, subsampling []int) (*raster.Raster, error) {
	extent := s.Geometry.Extent
	n := extent.Dimension()
	if len(lower) != n || len(upper) != n || len(subsampling) != n {
		return nil, &coverage.DimensionMismatchError{Expected: n, Actual: len(lower)}
	}
	index, stride := 0, 1
	for i := 2; i < n; i++ {
		if upper[i]-lower[i] != 1 || lower[i] < extent.Low[i] || lower[i] >= extent.High[i] {
			return nil, fmt.Errorf("libpyramid: slice [%d, %d) of axis %d not readable", lower[i], upper[i], i)
		}
		index += (lower[i] - extent.Low[i]) * stride
		stride *= extent.Size(i)
	}
	if index >= len(s.Rasters) {
		return nil, fmt.Errorf("libpyramid: no raster for slice %d", index)
	}
	src := s.Rasters[index]

	sx, sy := max(1, subsampling[0]), max(1, subsampling[1])
	w := (upper[0] - lower[0] + sx - 1) / sx
	h := (upper[1] - lower[1] + sy - 1) / sy
	dst := raster.New(image.Rect(0, 0, w, h), src.Model)
	for y := range h {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := range w {
			p := image.Pt(lower[0]+x*sx, lower[1]+y*sy)
			if p.In(src.Rect) {
				copy(dst.Pixel(x, y), src.Pixel(p.X, p.Y))
			}
		}
	}
	return dst, nil
}
