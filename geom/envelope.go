// Package geom implements the geometric helpers shared by every pipeline: envelopes,
// N-dimensional affine grid-to-CRS transforms, grid geometries, resolution conversion
// and the window computations used when reading a gridded source.
package geom

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/eak1mov/go-libpyramid/crs"
)

var ErrDisjointDomain = errors.New("libpyramid: requested domain does not intersect the data")

// DimensionMismatchError reports a request whose dimensionality is incompatible with
// the grid geometry it is applied to.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("libpyramid: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Envelope is an axis-aligned box in a CRS. Min and Max have CRS.Dimension() elements.
type Envelope struct {
	CRS crs.CRS
	Min []float64
	Max []float64
}

// NewEnvelope2D returns a horizontal envelope.
func NewEnvelope2D(c crs.CRS, minX, minY, maxX, maxY float64) Envelope {
	return Envelope{CRS: c, Min: []float64{minX, minY}, Max: []float64{maxX, maxY}}
}

func (e Envelope) Dimension() int {
	return len(e.Min)
}

func (e Envelope) Span(axis int) float64 {
	return e.Max[axis] - e.Min[axis]
}

func (e Envelope) Median(axis int) float64 {
	return (e.Min[axis] + e.Max[axis]) / 2
}

func (e Envelope) MedianPoint() []float64 {
	p := make([]float64, e.Dimension())
	for i := range p {
		p[i] = e.Median(i)
	}
	return p
}

// IsEmpty reports whether the envelope has no horizontal area or an inverted axis.
func (e Envelope) IsEmpty() bool {
	if e.Dimension() < 2 {
		return true
	}
	for i := range e.Min {
		if math.IsNaN(e.Min[i]) || math.IsNaN(e.Max[i]) || e.Max[i] < e.Min[i] {
			return true
		}
	}
	return e.Span(0) <= 0 || e.Span(1) <= 0
}

func (e Envelope) Clone() Envelope {
	return Envelope{
		CRS: e.CRS,
		Min: append([]float64(nil), e.Min...),
		Max: append([]float64(nil), e.Max...),
	}
}

// Horizontal returns the 2-D part of the envelope in the horizontal CRS.
func (e Envelope) Horizontal() Envelope {
	var c crs.CRS
	if e.CRS != nil {
		c = e.CRS.Horizontal()
	}
	return NewEnvelope2D(c, e.Min[0], e.Min[1], e.Max[0], e.Max[1])
}

// Intersects reports whether both envelopes overlap. Horizontal axes need a strictly
// positive overlap; other axes are closed intervals so that slices (min == max) match.
// Only the axes common to both envelopes are compared.
func (e Envelope) Intersects(o Envelope) bool {
	n := min(e.Dimension(), o.Dimension())
	for i := range n {
		if i < 2 {
			if !(e.Min[i] < o.Max[i] && o.Min[i] < e.Max[i]) {
				return false
			}
		} else if !(e.Min[i] <= o.Max[i] && o.Min[i] <= e.Max[i]) {
			return false
		}
	}
	return true
}

// Intersection returns the overlap of e and o on e's axes, keeping e's CRS.
func (e Envelope) Intersection(o Envelope) Envelope {
	r := e.Clone()
	for i := range min(e.Dimension(), o.Dimension()) {
		r.Min[i] = max(e.Min[i], o.Min[i])
		r.Max[i] = min(e.Max[i], o.Max[i])
	}
	return r
}

// Union returns the smallest envelope containing e and o, keeping e's CRS.
func (e Envelope) Union(o Envelope) Envelope {
	r := e.Clone()
	for i := range min(e.Dimension(), o.Dimension()) {
		r.Min[i] = min(e.Min[i], o.Min[i])
		r.Max[i] = max(e.Max[i], o.Max[i])
	}
	return r
}

func (e Envelope) String() string {
	var sb strings.Builder
	if e.CRS != nil {
		sb.WriteString(e.CRS.Name())
	}
	sb.WriteString("[")
	for i := range e.Min {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%g..%g", e.Min[i], e.Max[i])
	}
	sb.WriteString("]")
	return sb.String()
}

const densifySteps = 16

// TransformEnvelope returns the bounding box of e expressed in target. The horizontal
// boundary and interior are densified before transformation; extra axes are transformed
// at the horizontal median.
func TransformEnvelope(svc crs.Service, e Envelope, target crs.CRS) (Envelope, error) {
	if e.CRS == nil {
		return Envelope{}, fmt.Errorf("%w: envelope without CRS", crs.ErrNoOperation)
	}
	if crs.Equal(e.CRS, target) {
		r := e.Clone()
		r.CRS = target
		return r, nil
	}
	op, err := svc.FindOperation(e.CRS, target)
	if err != nil {
		return Envelope{}, err
	}
	return TransformEnvelopeWith(op, e, target)
}

// TransformEnvelopeWith is TransformEnvelope with an already resolved operation.
func TransformEnvelopeWith(op crs.Transform, e Envelope, target crs.CRS) (Envelope, error) {
	dim := e.Dimension()
	if op.SourceDim() != dim {
		return Envelope{}, &DimensionMismatchError{Expected: op.SourceDim(), Actual: dim}
	}
	if crs.IsIdentity(op) {
		r := e.Clone()
		r.CRS = target
		return r, nil
	}

	outDim := op.TargetDim()
	r := Envelope{CRS: target, Min: make([]float64, outDim), Max: make([]float64, outDim)}
	for i := range outDim {
		r.Min[i] = math.Inf(1)
		r.Max[i] = math.Inf(-1)
	}
	src := e.MedianPoint()
	dst := make([]float64, outDim)
	include := func() error {
		if err := op.Apply(dst, src); err != nil {
			return err
		}
		for i, v := range dst {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			r.Min[i] = min(r.Min[i], v)
			r.Max[i] = max(r.Max[i], v)
		}
		return nil
	}

	for i := 0; i <= densifySteps; i++ {
		for j := 0; j <= densifySteps; j++ {
			src[0] = e.Min[0] + e.Span(0)*float64(i)/densifySteps
			src[1] = e.Min[1] + e.Span(1)*float64(j)/densifySteps
			if err := include(); err != nil {
				return Envelope{}, err
			}
		}
	}
	if dim > 2 {
		src[0], src[1] = e.Median(0), e.Median(1)
		copy(src[2:], e.Min[2:])
		if err := include(); err != nil {
			return Envelope{}, err
		}
		copy(src[2:], e.Max[2:])
		if err := include(); err != nil {
			return Envelope{}, err
		}
	}
	for i := range outDim {
		if r.Min[i] > r.Max[i] {
			return Envelope{}, fmt.Errorf("libpyramid: envelope %v has no valid image in %s", e, target.Name())
		}
	}
	return r, nil
}
