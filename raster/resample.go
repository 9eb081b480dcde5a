package raster

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/eak1mov/go-libpyramid/crs"
)

// Interpolation selects how Resample evaluates the source between sample centers.
type Interpolation int

const (
	Nearest Interpolation = iota
	Bilinear
	Bicubic
)

func (i Interpolation) String() string {
	switch i {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	case Bicubic:
		return "bicubic"
	}
	return fmt.Sprintf("Interpolation(%d)", int(i))
}

func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(s) {
	case "", "nearest":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	case "bicubic":
		return Bicubic, nil
	}
	return Nearest, fmt.Errorf("libpyramid: unknown interpolation %q", s)
}

// Resample fills the pixels of dst inside region by pulling values from src. inverse maps
// destination pixel coordinates to source pixel coordinates (both cell-corner based); it
// is evaluated at every destination pixel center. Pixels mapping outside src get fill.
func Resample(dst *Raster, region image.Rectangle, src *Raster, inverse crs.Transform, interp Interpolation, fill []float64) error {
	if inverse.SourceDim() != 2 || inverse.TargetDim() != 2 {
		return fmt.Errorf("libpyramid: resampling needs a 2-D transform, got %d-D -> %d-D",
			inverse.SourceDim(), inverse.TargetDim())
	}
	if dst.Model.Bands != src.Model.Bands {
		return fmt.Errorf("libpyramid: cannot resample %d bands into %d", src.Model.Bands, dst.Model.Bands)
	}
	region = region.Intersect(dst.Rect)
	bands := dst.Model.Bands
	fillPx := FillValues(nil, bands, fill)
	bounds := src.Rect

	p := make([]float64, 2)
	out := make([]float64, bands)
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			if err := inverse.Apply(p, []float64{float64(x) + 0.5, float64(y) + 0.5}); err != nil {
				return err
			}
			sx, sy := p[0], p[1]
			if math.IsNaN(sx) || math.IsNaN(sy) ||
				sx < float64(bounds.Min.X) || sx >= float64(bounds.Max.X) ||
				sy < float64(bounds.Min.Y) || sy >= float64(bounds.Max.Y) {
				copy(out, fillPx)
			} else {
				switch interp {
				case Bilinear:
					sampleBilinear(out, src, sx, sy)
				case Bicubic:
					sampleBicubic(out, src, sx, sy)
				default:
					copy(out, src.Pixel(int(math.Floor(sx)), int(math.Floor(sy))))
				}
			}
			for b, v := range out {
				dst.Set(x, y, b, v)
			}
		}
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi-1, v))
}

func sampleBilinear(out []float64, src *Raster, sx, sy float64) {
	fx, fy := sx-0.5, sy-0.5
	x0, y0 := math.Floor(fx), math.Floor(fy)
	tx, ty := fx-x0, fy-y0
	b := src.Rect
	ix0, iy0 := clampInt(int(x0), b.Min.X, b.Max.X), clampInt(int(y0), b.Min.Y, b.Max.Y)
	ix1, iy1 := clampInt(int(x0)+1, b.Min.X, b.Max.X), clampInt(int(y0)+1, b.Min.Y, b.Max.Y)
	p00, p10 := src.Pixel(ix0, iy0), src.Pixel(ix1, iy0)
	p01, p11 := src.Pixel(ix0, iy1), src.Pixel(ix1, iy1)
	for i := range out {
		top := p00[i]*(1-tx) + p10[i]*tx
		bottom := p01[i]*(1-tx) + p11[i]*tx
		out[i] = top*(1-ty) + bottom*ty
	}
}

// cubic is the Keys convolution kernel with a = -0.5.
func cubic(t float64) float64 {
	const a = -0.5
	t = math.Abs(t)
	switch {
	case t <= 1:
		return (a+2)*t*t*t - (a+3)*t*t + 1
	case t < 2:
		return a*t*t*t - 5*a*t*t + 8*a*t - 4*a
	}
	return 0
}

func sampleBicubic(out []float64, src *Raster, sx, sy float64) {
	fx, fy := sx-0.5, sy-0.5
	x0, y0 := math.Floor(fx), math.Floor(fy)
	tx, ty := fx-x0, fy-y0
	b := src.Rect
	var wx, wy [4]float64
	for k := range 4 {
		wx[k] = cubic(float64(k-1) - tx)
		wy[k] = cubic(float64(k-1) - ty)
	}
	clear(out)
	for j := range 4 {
		iy := clampInt(int(y0)+j-1, b.Min.Y, b.Max.Y)
		for k := range 4 {
			ix := clampInt(int(x0)+k-1, b.Min.X, b.Max.X)
			w := wx[k] * wy[j]
			for i, v := range src.Pixel(ix, iy) {
				out[i] += w * v
			}
		}
	}
}
