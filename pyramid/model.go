// Package pyramid implements the multi-resolution tile model: a PyramidSet owns
// Pyramids, each Pyramid owns Mosaics (one regular tile grid per scale and slice) and
// Tiles are addressed by (column, row) inside a Mosaic.
//
// A tile is either missing (never written) or present. A present tile holds an
// in-memory raster or a reference to an encoded image; it may still be empty, that is
// filled with no-data only. Stores never persist empty tiles: writing one deletes the
// tile, so empty is always observed as missing.
package pyramid

import (
	"fmt"
	"image"
	"math"
	"slices"

	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/raster"
)

type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// TileCoord is the position of a tile inside its mosaic grid.
type TileCoord struct {
	Col int
	Row int
}

func (c TileCoord) String() string {
	return fmt.Sprintf("(%d,%d)", c.Col, c.Row)
}

// Mosaic is a regular grid of equally sized tiles at one scale, anchored by the CRS
// position of its upper-left corner. UpperLeft has one ordinate per CRS axis; the
// extra (non-horizontal) ordinates place the mosaic on a fixed slice.
type Mosaic struct {
	ID        string
	PyramidID string
	CRS       crs.CRS
	UpperLeft []float64
	GridSize  Size
	TileSize  Size
	Scale     float64
}

func (m *Mosaic) Dimension() int {
	return len(m.UpperLeft)
}

// Valid reports whether (col, row) lies inside the grid.
func (m *Mosaic) Valid(c TileCoord) bool {
	return c.Col >= 0 && c.Col < m.GridSize.Width && c.Row >= 0 && c.Row < m.GridSize.Height
}

// PixelSize returns the size in pixels of the whole grid.
func (m *Mosaic) PixelSize() image.Point {
	return image.Pt(m.GridSize.Width*m.TileSize.Width, m.GridSize.Height*m.TileSize.Height)
}

// PixelBounds returns the rectangle of the whole grid in mosaic pixel space.
func (m *Mosaic) PixelBounds() image.Rectangle {
	return image.Rectangle{Max: m.PixelSize()}
}

// TileBounds returns the rectangle of a tile in mosaic pixel space.
func (m *Mosaic) TileBounds(c TileCoord) image.Rectangle {
	origin := image.Pt(c.Col*m.TileSize.Width, c.Row*m.TileSize.Height)
	return image.Rectangle{Min: origin, Max: origin.Add(image.Pt(m.TileSize.Width, m.TileSize.Height))}
}

func (m *Mosaic) envelope(col0, row0, col1, row1 int) geom.Envelope {
	tw := float64(m.TileSize.Width) * m.Scale
	th := float64(m.TileSize.Height) * m.Scale
	env := geom.Envelope{
		CRS: m.CRS,
		Min: slices.Clone(m.UpperLeft),
		Max: slices.Clone(m.UpperLeft),
	}
	env.Min[0] = m.UpperLeft[0] + float64(col0)*tw
	env.Max[0] = m.UpperLeft[0] + float64(col1)*tw
	env.Min[1] = m.UpperLeft[1] - float64(row1)*th
	env.Max[1] = m.UpperLeft[1] - float64(row0)*th
	return env
}

// TileEnvelope returns the CRS envelope of one tile. Extra axes are degenerate at the
// mosaic's upper-left ordinate.
func (m *Mosaic) TileEnvelope(c TileCoord) geom.Envelope {
	return m.envelope(c.Col, c.Row, c.Col+1, c.Row+1)
}

// Envelope returns the CRS envelope of the whole grid.
func (m *Mosaic) Envelope() geom.Envelope {
	return m.envelope(0, 0, m.GridSize.Width, m.GridSize.Height)
}

// PixelWindow returns the mosaic pixel rectangle covering env (expressed in the mosaic
// CRS), clipped to the grid.
func (m *Mosaic) PixelWindow(env geom.Envelope) image.Rectangle {
	const snap = 1e-9
	x0 := (env.Min[0] - m.UpperLeft[0]) / m.Scale
	x1 := (env.Max[0] - m.UpperLeft[0]) / m.Scale
	y0 := (m.UpperLeft[1] - env.Max[1]) / m.Scale
	y1 := (m.UpperLeft[1] - env.Min[1]) / m.Scale
	r := image.Rect(
		int(math.Max(math.Floor(x0+snap), math.MinInt32)),
		int(math.Max(math.Floor(y0+snap), math.MinInt32)),
		int(math.Min(math.Ceil(x1-snap), math.MaxInt32)),
		int(math.Min(math.Ceil(y1-snap), math.MaxInt32)),
	)
	return r.Intersect(m.PixelBounds())
}

// TileRange returns the range of tile indices [Min, Max) whose tiles intersect the
// pixel rectangle r.
func (m *Mosaic) TileRange(r image.Rectangle) image.Rectangle {
	r = r.Intersect(m.PixelBounds())
	if r.Empty() {
		return image.Rectangle{}
	}
	return image.Rect(
		r.Min.X/m.TileSize.Width,
		r.Min.Y/m.TileSize.Height,
		(r.Max.X+m.TileSize.Width-1)/m.TileSize.Width,
		(r.Max.Y+m.TileSize.Height-1)/m.TileSize.Height,
	)
}

// Pyramid is a set of mosaics sharing one CRS, ordered by ascending scale (finest
// first). Several mosaics may share a scale when they differ on extra axes.
type Pyramid struct {
	ID      string
	CRS     crs.CRS
	Mosaics []*Mosaic
}

func (p *Pyramid) Mosaic(id string) (*Mosaic, bool) {
	for _, m := range p.Mosaics {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// Envelope returns the union of the mosaic envelopes. A pyramid without mosaics has an
// empty envelope.
func (p *Pyramid) Envelope() geom.Envelope {
	if len(p.Mosaics) == 0 {
		n := p.CRS.Dimension()
		return geom.Envelope{CRS: p.CRS, Min: make([]float64, n), Max: make([]float64, n)}
	}
	env := p.Mosaics[0].Envelope()
	for _, m := range p.Mosaics[1:] {
		env = env.Union(m.Envelope())
	}
	env.CRS = p.CRS
	return env
}

func (p *Pyramid) sortMosaics() {
	slices.SortStableFunc(p.Mosaics, func(a, b *Mosaic) int {
		if a.Scale != b.Scale {
			if a.Scale < b.Scale {
				return -1
			}
			return 1
		}
		for i := 2; i < min(len(a.UpperLeft), len(b.UpperLeft)); i++ {
			if a.UpperLeft[i] != b.UpperLeft[i] {
				if a.UpperLeft[i] < b.UpperLeft[i] {
					return -1
				}
				return 1
			}
		}
		return 0
	})
}

// PyramidSet is the collection of pyramids of one resource.
type PyramidSet struct {
	Pyramids []*Pyramid
}

func (s *PyramidSet) Pyramid(id string) (*Pyramid, bool) {
	for _, p := range s.Pyramids {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Envelope returns the union of all pyramid envelopes, expressed in the CRS of the
// first pyramid.
func (s *PyramidSet) Envelope(svc crs.Service) (geom.Envelope, error) {
	if len(s.Pyramids) == 0 {
		return geom.Envelope{}, fmt.Errorf("%w: pyramid set is empty", ErrNotFound)
	}
	env := s.Pyramids[0].Envelope()
	for _, p := range s.Pyramids[1:] {
		if len(p.Mosaics) == 0 {
			continue
		}
		other, err := geom.TransformEnvelope(svc, p.Envelope(), env.CRS)
		if err != nil {
			return geom.Envelope{}, err
		}
		env = env.Union(other)
	}
	return env, nil
}

// TileSource references an encoded image: the image at Index of Reader.
type TileSource struct {
	Reader raster.ImageReader
	Index  int
}

// Tile is a present tile. Missing tiles are represented by a nil *Tile.
type Tile struct {
	Coord  TileCoord
	Image  *raster.Raster
	Source *TileSource
	Empty  bool
}

// Load returns the tile raster, decoding it from Source when needed. The source reader
// is closed in all cases.
func (t *Tile) Load() (r *raster.Raster, err error) {
	if t.Source != nil {
		defer func() {
			if cerr := t.Source.Reader.Close(); err == nil {
				err = cerr
			}
		}()
	}
	if t.Image != nil {
		return t.Image, nil
	}
	if t.Source == nil {
		return nil, fmt.Errorf("%w: tile %v has no data", ErrInvalidTile, t.Coord)
	}
	return t.Source.Reader.Read(t.Source.Index)
}
