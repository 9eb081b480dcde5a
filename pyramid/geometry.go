package pyramid

import (
	"context"
	"image"
	"math"

	"github.com/eak1mov/go-libpyramid/geom"
)

// TileGridToCRS returns the 2-D transform from pixel coordinates of one tile to the
// mosaic CRS.
func TileGridToCRS(m *Mosaic, c TileCoord, anchor geom.PixelAnchor) *geom.Affine {
	tw := float64(m.TileSize.Width) * m.Scale
	th := float64(m.TileSize.Height) * m.Scale
	a := geom.NewAffine2D(
		m.Scale, 0,
		0, -m.Scale,
		m.UpperLeft[0]+float64(c.Col)*tw,
		m.UpperLeft[1]-float64(c.Row)*th,
	)
	if anchor == geom.CellCenter {
		return a.Translate(0.5, 0.5)
	}
	return a
}

// TileGridToCRSND extends the corner transform of a tile to dim axes. Every axis past
// the horizontal pair is a fixed slice at the mosaic's upper-left ordinate.
func TileGridToCRSND(m *Mosaic, c TileCoord, dim int) *geom.Affine {
	h := TileGridToCRS(m, c, geom.CellCorner)
	if dim <= 2 {
		return h
	}
	slice := make([]float64, dim-2)
	for i := range slice {
		if 2+i < len(m.UpperLeft) {
			slice[i] = m.UpperLeft[2+i]
		}
	}
	return h.Extend(slice)
}

// TileGridGeometry returns the geometry of one tile in the mosaic CRS.
func TileGridGeometry(m *Mosaic, c TileCoord) geom.GridGeometry {
	dim := max(2, m.Dimension())
	return geom.GridGeometry{
		Extent:    geom.NewGridExtent(image.Rect(0, 0, m.TileSize.Width, m.TileSize.Height), dim),
		GridToCRS: TileGridToCRSND(m, c, dim),
		CRS:       m.CRS,
	}
}

// MosaicGridGeometry returns the geometry of the whole mosaic in pixel space.
func MosaicGridGeometry(m *Mosaic) geom.GridGeometry {
	dim := max(2, m.Dimension())
	return geom.GridGeometry{
		Extent:    geom.NewGridExtent(m.PixelBounds(), dim),
		GridToCRS: TileGridToCRSND(m, TileCoord{}, dim),
		CRS:       m.CRS,
	}
}

// DataExtent returns the pixel rectangle of m bounding its first and last present tiles
// in row-major order. The last tile is searched backwards, stopping at the first tile's
// row. A mosaic without tiles yields the whole grid.
func DataExtent(ctx context.Context, s Store, m *Mosaic) (image.Rectangle, error) {
	first, found, err := scanTiles(ctx, s, m, 0, 1)
	if err != nil {
		return image.Rectangle{}, err
	}
	if !found {
		return m.PixelBounds(), nil
	}
	last, _, err := scanTiles(ctx, s, m, first.Row, -1)
	if err != nil {
		return image.Rectangle{}, err
	}
	lo := TileCoord{Col: min(first.Col, last.Col), Row: first.Row}
	hi := TileCoord{Col: max(first.Col, last.Col), Row: last.Row}
	return m.TileBounds(lo).Union(m.TileBounds(hi)), nil
}

// scanTiles looks for the first present tile scanning forward from row stop (step 1)
// or backward down to row stop (step -1).
func scanTiles(ctx context.Context, s Store, m *Mosaic, stop, step int) (TileCoord, bool, error) {
	w, h := m.GridSize.Width, m.GridSize.Height
	row, endRow := stop, h
	if step < 0 {
		row, endRow = h-1, stop-1
	}
	for ; row != endRow; row += step {
		for i := range w {
			col := i
			if step < 0 {
				col = w - 1 - i
			}
			if err := ctx.Err(); err != nil {
				return TileCoord{}, false, err
			}
			c := TileCoord{Col: col, Row: row}
			ok, err := s.HasTile(ctx, m, c)
			if err != nil {
				return TileCoord{}, false, err
			}
			if ok {
				return c, true, nil
			}
		}
	}
	return TileCoord{}, false, nil
}

// CreateLevels creates a pyramid over env with the given number of levels. Level 0 has
// finestScale; every next level doubles the scale. Grids are sized to cover env and are
// anchored at its upper-left corner. Extra axes of env are stored as the slice position
// of every mosaic.
func CreateLevels(ctx context.Context, s Store, env geom.Envelope, tileSize Size, finestScale float64, levels int) (*Pyramid, error) {
	p, err := s.CreatePyramid(ctx, env.CRS)
	if err != nil {
		return nil, err
	}
	upperLeft := append([]float64{env.Min[0], env.Max[1]}, env.Min[2:]...)
	scale := finestScale
	for range levels {
		grid := Size{
			Width:  max(1, int(math.Ceil(env.Span(0)/(float64(tileSize.Width)*scale)-1e-9))),
			Height: max(1, int(math.Ceil(env.Span(1)/(float64(tileSize.Height)*scale)-1e-9))),
		}
		m, err := s.CreateMosaic(ctx, p.ID, MosaicSpec{
			UpperLeft: upperLeft,
			GridSize:  grid,
			TileSize:  tileSize,
			Scale:     scale,
		})
		if err != nil {
			return nil, err
		}
		p.Mosaics = append(p.Mosaics, m)
		scale *= 2
	}
	return p, nil
}
