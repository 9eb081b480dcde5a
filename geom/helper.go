package geom

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/eak1mov/go-libpyramid/crs"
)

// ConvertResolution converts a per-axis resolution valid over env into target CRS units.
// Horizontal systems are converted directly through the envelope transform; otherwise
// (or when the direct conversion fails) the resolution vector is multiplied by the
// Jacobian of the operation at the envelope median.
func ConvertResolution(svc crs.Service, env Envelope, res []float64, target crs.CRS) ([]float64, error) {
	if len(res) != env.Dimension() {
		return nil, &DimensionMismatchError{Expected: env.Dimension(), Actual: len(res)}
	}
	if crs.Equal(env.CRS, target) {
		return append([]float64(nil), res...), nil
	}
	op, err := svc.FindOperation(env.CRS, target)
	if err != nil {
		return nil, err
	}
	if crs.IsIdentity(op) {
		return append([]float64(nil), res...), nil
	}

	if env.Dimension() == 2 && target.Dimension() == 2 {
		if out, err := convertDirect(op, env, res, target); err == nil {
			return out, nil
		}
	}
	return convertJacobian(op, env, res)
}

func convertDirect(op crs.Transform, env Envelope, res []float64, target crs.CRS) ([]float64, error) {
	if env.Span(0) <= 0 || env.Span(1) <= 0 {
		return nil, fmt.Errorf("libpyramid: degenerate envelope %v", env)
	}
	t, err := TransformEnvelopeWith(op, env, target)
	if err != nil {
		return nil, err
	}
	out := []float64{
		res[0] * t.Span(0) / env.Span(0),
		res[1] * t.Span(1) / env.Span(1),
	}
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return nil, fmt.Errorf("libpyramid: invalid converted resolution %v", out)
		}
	}
	return out, nil
}

func convertJacobian(op crs.Transform, env Envelope, res []float64) ([]float64, error) {
	d, err := op.Derivative(env.MedianPoint())
	if err != nil {
		return nil, err
	}
	var v mat.VecDense
	v.MulVec(d, mat.NewVecDense(len(res), append([]float64(nil), res...)))
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = math.Abs(v.AtVec(i))
	}
	return out, nil
}

// snap absorbs floating point noise before rounding grid coordinates.
const snap = 1e-9

// ReadRequest groups the computations used to read a window of a gridded source at a
// requested resolution.
type ReadRequest struct {
	Service crs.Service
	Native  GridGeometry
}

// IntersectedEnvelope returns the request envelope transformed into the native CRS and
// clipped to the native envelope. Extra axes absent from the request keep the native
// range.
func (r ReadRequest) IntersectedEnvelope(request Envelope) (Envelope, error) {
	native := r.Native.Envelope()
	if request.CRS == nil {
		request.CRS = r.Native.CRS
	}
	target := r.Native.CRS
	switch {
	case request.Dimension() == native.Dimension():
	case request.Dimension() == 2:
		target = r.Native.CRS.Horizontal()
		request = request.Horizontal()
	default:
		return Envelope{}, &DimensionMismatchError{Expected: native.Dimension(), Actual: request.Dimension()}
	}
	env, err := TransformEnvelope(r.Service, request, target)
	if err != nil {
		return Envelope{}, err
	}
	clipped := native.Intersection(env)
	if !native.Intersects(env) || clipped.IsEmpty() {
		return Envelope{}, fmt.Errorf("%w: %v and %v", ErrDisjointDomain, request, native)
	}
	return clipped, nil
}

// SourcePixelWindow returns the native pixel rectangle covering env, clipped to the
// native extent.
func (r ReadRequest) SourcePixelWindow(env Envelope) (image.Rectangle, error) {
	h, err := r.Native.Horizontal()
	if err != nil {
		return image.Rectangle{}, err
	}
	inv, err := h.GridToCRS.Invert()
	if err != nil {
		return image.Rectangle{}, err
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	p := make([]float64, 2)
	for _, x := range []float64{env.Min[0], env.Max[0]} {
		for _, y := range []float64{env.Min[1], env.Max[1]} {
			_ = inv.Apply(p, []float64{x, y})
			minX, maxX = min(minX, p[0]), max(maxX, p[0])
			minY, maxY = min(minY, p[1]), max(maxY, p[1])
		}
	}
	win := image.Rect(
		int(math.Floor(minX+snap)), int(math.Floor(minY+snap)),
		int(math.Ceil(maxX-snap)), int(math.Ceil(maxY-snap)),
	).Intersect(r.Native.Extent.Rect())
	if win.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: empty pixel window for %v", ErrDisjointDomain, env)
	}
	return win, nil
}

// DestinationImageSize returns the output size for a source window read at requested
// resolution. A nil request keeps the native resolution.
func (r ReadRequest) DestinationImageSize(window image.Rectangle, requested []float64) image.Point {
	if len(requested) < 2 {
		return window.Size()
	}
	native := r.Native.Resolution()
	size := window.Size()
	for i, n := range []*int{&size.X, &size.Y} {
		if requested[i] <= 0 || native[i] <= 0 {
			continue
		}
		ratio := requested[i] / native[i]
		*n = max(1, int(math.Ceil(float64(*n)/ratio-snap)))
	}
	return size
}

// DestinationGridGeometry returns the geometry of an image of the given size covering
// window. The horizontal grid-to-CRS is separated from the native transform when
// possible; otherwise a diagonal transform is built from env. Extra axes become a fixed
// slice at env's minimum.
func (r ReadRequest) DestinationGridGeometry(window image.Rectangle, size image.Point, env Envelope) (GridGeometry, error) {
	dim := r.Native.Dimension()
	if env.Dimension() != dim {
		return GridGeometry{}, &DimensionMismatchError{Expected: dim, Actual: env.Dimension()}
	}
	sx := float64(window.Dx()) / float64(size.X)
	sy := float64(window.Dy()) / float64(size.Y)

	var h *Affine
	if native, ok := r.Native.GridToCRS.Horizontal(); ok {
		h = native.Translate(float64(window.Min.X), float64(window.Min.Y)).ScaleSource(sx, sy)
	} else {
		res := r.Native.Resolution()
		h = NewAffine2D(res[0]*sx, 0, 0, -res[1]*sy, env.Min[0], env.Max[1])
	}

	gridToCRS := h
	if dim > 2 {
		gridToCRS = h.Extend(env.Min[2:])
	}
	return GridGeometry{
		Extent:    NewGridExtent(image.Rect(0, 0, size.X, size.Y), dim),
		GridToCRS: gridToCRS,
		CRS:       r.Native.CRS,
	}, nil
}
