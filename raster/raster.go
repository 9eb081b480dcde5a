// Package raster provides the in-memory raster model used by the pyramid engine,
// a binary tile codec and a pull resampler.
package raster

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// DataType is the storage type of raster samples.
type DataType uint8

const (
	Unknown DataType = iota
	Uint8
	Int16
	Uint16
	Int32
	Float32
	Float64
)

var dataTypeNames = [...]string{"unknown", "uint8", "int16", "uint16", "int32", "float32", "float64"}

func (d DataType) String() string {
	if int(d) < len(dataTypeNames) {
		return dataTypeNames[d]
	}
	return fmt.Sprintf("DataType(%d)", d)
}

// ParseDataType resolves names like "uint8" or "float32".
func ParseDataType(s string) (DataType, error) {
	for i, name := range dataTypeNames[1:] {
		if strings.EqualFold(s, name) {
			return DataType(i + 1), nil
		}
	}
	return Unknown, fmt.Errorf("libpyramid: unknown data type %q", s)
}

// Size returns the encoded size of one sample in bytes.
func (d DataType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

func (d DataType) IsInteger() bool {
	return d >= Uint8 && d <= Int32
}

// Clamp converts v to the nearest value representable by d.
func (d DataType) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		if d.IsInteger() {
			return 0
		}
		return v
	}
	var lo, hi float64
	switch d {
	case Uint8:
		lo, hi = 0, math.MaxUint8
	case Int16:
		lo, hi = math.MinInt16, math.MaxInt16
	case Uint16:
		lo, hi = 0, math.MaxUint16
	case Int32:
		lo, hi = math.MinInt32, math.MaxInt32
	case Float32:
		return float64(float32(v))
	default:
		return v
	}
	return math.Min(hi, math.Max(lo, math.Round(v)))
}

// SampleModel describes the layout of a raster's samples.
type SampleModel struct {
	DataType DataType
	Bands    int
}

func (m SampleModel) Valid() bool {
	return m.DataType.Size() > 0 && m.Bands > 0
}

func (m SampleModel) String() string {
	return fmt.Sprintf("%dx%v", m.Bands, m.DataType)
}

// Raster is a rectangular, band-interleaved block of samples. Pixel (x, y) of band b
// lives at Pix[((y-Rect.Min.Y)*Rect.Dx()+(x-Rect.Min.X))*Bands+b]. Samples are kept as
// float64 and rounded to the data type on Set.
type Raster struct {
	Rect  image.Rectangle
	Model SampleModel
	Pix   []float64
}

// New allocates a zero-filled raster.
func New(r image.Rectangle, model SampleModel) *Raster {
	return &Raster{
		Rect:  r,
		Model: model,
		Pix:   make([]float64, r.Dx()*r.Dy()*model.Bands),
	}
}

// NewFilled allocates a raster with every pixel set to fill. A short fill is padded with
// zeros.
func NewFilled(r image.Rectangle, model SampleModel, fill []float64) *Raster {
	raster := New(r, model)
	raster.Fill(fill)
	return raster
}

func (r *Raster) Bands() int {
	return r.Model.Bands
}

func (r *Raster) Bounds() image.Rectangle {
	return r.Rect
}

func (r *Raster) offset(x, y int) int {
	return ((y-r.Rect.Min.Y)*r.Rect.Dx() + (x - r.Rect.Min.X)) * r.Model.Bands
}

func (r *Raster) At(x, y, band int) float64 {
	return r.Pix[r.offset(x, y)+band]
}

func (r *Raster) Set(x, y, band int, v float64) {
	r.Pix[r.offset(x, y)+band] = r.Model.DataType.Clamp(v)
}

// Pixel returns the samples of one pixel, sharing storage with r.
func (r *Raster) Pixel(x, y int) []float64 {
	i := r.offset(x, y)
	return r.Pix[i : i+r.Model.Bands : i+r.Model.Bands]
}

func (r *Raster) Fill(fill []float64) {
	n := r.Model.Bands
	px := make([]float64, n)
	for b := range min(n, len(fill)) {
		px[b] = r.Model.DataType.Clamp(fill[b])
	}
	for i := 0; i < len(r.Pix); i += n {
		copy(r.Pix[i:i+n], px)
	}
}

func (r *Raster) Clone() *Raster {
	return &Raster{Rect: r.Rect, Model: r.Model, Pix: append([]float64(nil), r.Pix...)}
}

// Translate returns a raster sharing r's samples with its origin moved to p.
func (r *Raster) Translate(p image.Point) *Raster {
	return &Raster{Rect: r.Rect.Sub(r.Rect.Min).Add(p), Model: r.Model, Pix: r.Pix}
}

// Blit copies the part of src overlapping r, in r's coordinate space.
func (r *Raster) Blit(src *Raster) error {
	if src.Model.Bands != r.Model.Bands {
		return fmt.Errorf("libpyramid: cannot copy %d bands into %d", src.Model.Bands, r.Model.Bands)
	}
	area := r.Rect.Intersect(src.Rect)
	if area.Empty() {
		return nil
	}
	n := area.Dx() * r.Model.Bands
	for y := area.Min.Y; y < area.Max.Y; y++ {
		di := r.offset(area.Min.X, y)
		si := src.offset(area.Min.X, y)
		copy(r.Pix[di:di+n], src.Pix[si:si+n])
	}
	return nil
}

// SubRaster returns a copy of the samples inside area.
func (r *Raster) SubRaster(area image.Rectangle) *Raster {
	sub := New(area.Intersect(r.Rect), r.Model)
	_ = sub.Blit(r)
	return sub
}

// IsEmpty reports whether every sample of every band equals the band's fill value.
// NaN fill values match NaN samples.
func (r *Raster) IsEmpty(fill []float64) bool {
	n := r.Model.Bands
	want := make([]float64, n)
	for b := range min(n, len(fill)) {
		want[b] = r.Model.DataType.Clamp(fill[b])
	}
	for i, v := range r.Pix {
		w := want[i%n]
		if v != w && !(math.IsNaN(v) && math.IsNaN(w)) {
			return false
		}
	}
	return true
}
