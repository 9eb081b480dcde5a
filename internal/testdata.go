// Package internal holds test fixtures shared by the backend and pipeline tests.
package internal

import (
	"fmt"
	"image"

	"github.com/eak1mov/go-libpyramid/raster"
	"github.com/eak1mov/go-libpyramid/tile"
)

// Tiles returns a deterministic set of encoded tiles spread over two pyramids and
// three mosaics. Some payloads are duplicated on purpose.
func Tiles(n int) map[tile.ID][]byte {
	tiles := make(map[tile.ID][]byte, n)
	mosaics := [][2]string{{"p1", "m1"}, {"p1", "m2"}, {"p2", "m1"}}
	for i := range n {
		pm := mosaics[i%len(mosaics)]
		tileID := tile.ID{Pyramid: pm[0], Mosaic: pm[1], Col: uint32(i * 7 % 13), Row: uint32(i / 13)}
		tiles[tileID] = fmt.Appendf(nil, "%v-%d", tileID, i%5)
	}
	return tiles
}

// Gradient returns a raster whose samples depend on position and band, so that
// misplaced pixels are detected by comparisons.
func Gradient(r image.Rectangle, model raster.SampleModel) *raster.Raster {
	ras := raster.New(r, model)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			for b := range model.Bands {
				ras.Set(x, y, b, float64((x*3+y*5+b*11)%200+1))
			}
		}
	}
	return ras
}
