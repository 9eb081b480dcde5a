package geom

import (
	"fmt"
	"image"
	"math"

	"github.com/eak1mov/go-libpyramid/crs"
)

// PixelAnchor selects which point of a cell a grid-to-CRS transform maps integer grid
// coordinates to.
type PixelAnchor int

const (
	CellCorner PixelAnchor = iota
	CellCenter
)

func (p PixelAnchor) String() string {
	switch p {
	case CellCorner:
		return "corner"
	case CellCenter:
		return "center"
	default:
		return fmt.Sprintf("PixelAnchor(%d)", int(p))
	}
}

// GridExtent is a range of grid cells. High is exclusive.
type GridExtent struct {
	Low  []int
	High []int
}

// NewGridExtent returns an extent over r on the horizontal axes and a single cell on
// every extra axis.
func NewGridExtent(r image.Rectangle, dim int) GridExtent {
	e := GridExtent{Low: make([]int, dim), High: make([]int, dim)}
	e.Low[0], e.Low[1] = r.Min.X, r.Min.Y
	e.High[0], e.High[1] = r.Max.X, r.Max.Y
	for i := 2; i < dim; i++ {
		e.High[i] = 1
	}
	return e
}

func (e GridExtent) Dimension() int {
	return len(e.Low)
}

func (e GridExtent) Size(axis int) int {
	return e.High[axis] - e.Low[axis]
}

// Rect returns the horizontal part of the extent.
func (e GridExtent) Rect() image.Rectangle {
	return image.Rect(e.Low[0], e.Low[1], e.High[0], e.High[1])
}

// GridGeometry ties a grid extent to a CRS through a cell-corner grid-to-CRS transform.
type GridGeometry struct {
	Extent    GridExtent
	GridToCRS *Affine
	CRS       crs.CRS
}

// NewGridGeometry2D builds a horizontal grid geometry.
func NewGridGeometry2D(c crs.CRS, r image.Rectangle, gridToCRS *Affine) GridGeometry {
	return GridGeometry{Extent: NewGridExtent(r, 2), GridToCRS: gridToCRS, CRS: c}
}

func (g GridGeometry) Dimension() int {
	return g.GridToCRS.Dim()
}

// GridToCRSAt returns the grid-to-CRS transform for the given anchor.
func (g GridGeometry) GridToCRSAt(anchor PixelAnchor) *Affine {
	if anchor == CellCorner {
		return g.GridToCRS
	}
	offsets := make([]float64, g.Dimension())
	for i := range offsets {
		offsets[i] = 0.5
	}
	return g.GridToCRS.Translate(offsets...)
}

// Envelope returns the CRS extent of the grid, computed from every corner of the extent.
func (g GridGeometry) Envelope() Envelope {
	n := g.Dimension()
	env := Envelope{CRS: g.CRS, Min: make([]float64, n), Max: make([]float64, n)}
	for i := range n {
		env.Min[i] = math.Inf(1)
		env.Max[i] = math.Inf(-1)
	}
	src := make([]float64, n)
	dst := make([]float64, n)
	for corner := range 1 << n {
		for i := range n {
			if corner&(1<<i) != 0 {
				src[i] = float64(g.Extent.High[i])
			} else {
				src[i] = float64(g.Extent.Low[i])
			}
		}
		_ = g.GridToCRS.Apply(dst, src)
		for i, v := range dst {
			env.Min[i] = min(env.Min[i], v)
			env.Max[i] = max(env.Max[i], v)
		}
	}
	return env
}

// Resolution returns the CRS length of one cell step along every grid axis.
func (g GridGeometry) Resolution() []float64 {
	n := g.Dimension()
	res := make([]float64, n)
	for j := range n {
		var s float64
		for i := range n {
			v := g.GridToCRS.At(i, j)
			s += v * v
		}
		res[j] = math.Sqrt(s)
	}
	return res
}

// Horizontal returns the 2-D part of the geometry. It fails when the horizontal axes
// cannot be separated from the others.
func (g GridGeometry) Horizontal() (GridGeometry, error) {
	if g.Dimension() == 2 {
		return g, nil
	}
	h, ok := g.GridToCRS.Horizontal()
	if !ok {
		return GridGeometry{}, fmt.Errorf("libpyramid: grid-to-CRS transform is not separable")
	}
	var c crs.CRS
	if g.CRS != nil {
		c = g.CRS.Horizontal()
	}
	return GridGeometry{Extent: NewGridExtent(g.Extent.Rect(), 2), GridToCRS: h, CRS: c}, nil
}
