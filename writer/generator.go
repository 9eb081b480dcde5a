package writer

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/pyramid"
)

// Task resamples the source into one tile.
type Task struct {
	Pyramid *pyramid.Pyramid
	Mosaic  *pyramid.Mosaic
	Coord   pyramid.TileCoord
	// Region is the part of the tile covered by the source, in tile pixel coordinates.
	Region image.Rectangle

	toSource crs.Transform
}

// Inverse returns the transform from tile pixel coordinates to source grid coordinates.
func (t Task) Inverse() (crs.Transform, error) {
	return crs.Concatenate(pyramid.TileGridToCRS(t.Mosaic, t.Coord, geom.CellCorner), t.toSource)
}

type mosaicRange struct {
	mosaic *pyramid.Mosaic
	window image.Rectangle
	tiles  image.Rectangle
}

type target struct {
	pyramid  *pyramid.Pyramid
	toSource crs.Transform
	mosaics  []mosaicRange
}

// TaskGenerator lazily produces the tasks of one write: pyramids in set order, mosaics
// in pyramid order, tiles row by row. It is safe for concurrent use.
type TaskGenerator struct {
	targets []target
	total   int

	mu      sync.Mutex
	pi, mi  int
	cursor  image.Point
	started bool
}

// NewTaskGenerator plans the tiles of set covered by env. env is expressed in the CRS
// of source; its extra axes, when present, select the mosaics whose slice they contain.
func NewTaskGenerator(svc crs.Service, set *pyramid.PyramidSet, source geom.GridGeometry, env geom.Envelope) (*TaskGenerator, error) {
	h, err := source.Horizontal()
	if err != nil {
		return nil, err
	}
	crsToGrid, err := h.GridToCRS.Invert()
	if err != nil {
		return nil, err
	}
	horizontal := env.Horizontal()

	g := &TaskGenerator{}
	for _, p := range set.Pyramids {
		pyramidCRS := p.CRS.Horizontal()
		op, err := svc.FindOperation(pyramidCRS, h.CRS)
		if err != nil {
			return nil, fmt.Errorf("libpyramid: pyramid %s: %w", p.ID, err)
		}
		toSource, err := crs.Concatenate(op, crsToGrid)
		if err != nil {
			return nil, err
		}
		area, err := geom.TransformEnvelope(svc, horizontal, pyramidCRS)
		if err != nil {
			return nil, fmt.Errorf("libpyramid: pyramid %s: %w", p.ID, err)
		}

		t := target{pyramid: p, toSource: toSource}
		for _, m := range p.Mosaics {
			if !onSlice(m, env) {
				continue
			}
			window := coveredPixels(m, area)
			if window.Empty() {
				continue
			}
			tiles := m.TileRange(window)
			t.mosaics = append(t.mosaics, mosaicRange{mosaic: m, window: window, tiles: tiles})
			g.total += tiles.Dx() * tiles.Dy()
		}
		if len(t.mosaics) > 0 {
			g.targets = append(g.targets, t)
		}
	}
	return g, nil
}

// Total returns the number of tasks the generator produces.
func (g *TaskGenerator) Total() int {
	return g.total
}

// Next returns the next task. ok is false once every task has been produced.
func (g *TaskGenerator) Next() (task Task, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for g.pi < len(g.targets) {
		t := &g.targets[g.pi]
		if g.mi >= len(t.mosaics) {
			g.pi++
			g.mi = 0
			continue
		}
		r := &t.mosaics[g.mi]
		if !g.started {
			g.cursor = r.tiles.Min
			g.started = true
		}
		if g.cursor.Y >= r.tiles.Max.Y {
			g.mi++
			g.started = false
			continue
		}

		c := pyramid.TileCoord{Col: g.cursor.X, Row: g.cursor.Y}
		if g.cursor.X++; g.cursor.X >= r.tiles.Max.X {
			g.cursor.X = r.tiles.Min.X
			g.cursor.Y++
		}
		bounds := r.mosaic.TileBounds(c)
		return Task{
			Pyramid:  t.pyramid,
			Mosaic:   r.mosaic,
			Coord:    c,
			Region:   r.window.Intersect(bounds).Sub(bounds.Min),
			toSource: t.toSource,
		}, true
	}
	return Task{}, false
}

// onSlice reports whether the extra-axis position of m lies inside env. Envelopes or
// mosaics without extra axes match every mosaic.
func onSlice(m *pyramid.Mosaic, env geom.Envelope) bool {
	const eps = 1e-9
	for i := 2; i < min(m.Dimension(), env.Dimension()); i++ {
		v := m.UpperLeft[i]
		tol := eps * max(1, math.Abs(v))
		if v < env.Min[i]-tol || v > env.Max[i]+tol {
			return false
		}
	}
	return true
}

// coveredPixels returns the mosaic pixels whose centers lie inside env.
func coveredPixels(m *pyramid.Mosaic, env geom.Envelope) image.Rectangle {
	const snap = 1e-9
	edge := func(v float64) int {
		return int(math.Max(math.Min(math.Ceil(v-0.5-snap), math.MaxInt32), math.MinInt32))
	}
	// Not image.Rect: a window thinner than one pixel must stay empty instead of
	// being canonicalized.
	r := image.Rectangle{
		Min: image.Pt(edge((env.Min[0]-m.UpperLeft[0])/m.Scale), edge((m.UpperLeft[1]-env.Max[1])/m.Scale)),
		Max: image.Pt(edge((env.Max[0]-m.UpperLeft[0])/m.Scale), edge((m.UpperLeft[1]-env.Min[1])/m.Scale)),
	}
	if r.Empty() {
		return image.Rectangle{}
	}
	return r.Intersect(m.PixelBounds())
}
