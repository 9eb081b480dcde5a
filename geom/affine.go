package geom

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/eak1mov/go-libpyramid/crs"
)

// Affine is an N-dimensional affine transform stored as an (N+1)×(N+1) homogeneous
// matrix. It implements crs.Transform.
type Affine struct {
	m *mat.Dense
}

var _ crs.Transform = (*Affine)(nil)

// NewAffine returns the identity affine transform of the given dimension.
func NewAffine(dim int) *Affine {
	m := mat.NewDense(dim+1, dim+1, nil)
	for i := range dim + 1 {
		m.Set(i, i, 1)
	}
	return &Affine{m: m}
}

// NewAffine2D returns the transform x' = sx·x + shx·y + tx, y' = shy·x + sy·y + ty.
func NewAffine2D(sx, shx, shy, sy, tx, ty float64) *Affine {
	return &Affine{m: mat.NewDense(3, 3, []float64{
		sx, shx, tx,
		shy, sy, ty,
		0, 0, 1,
	})}
}

// AffineFromMatrix wraps a copy of a homogeneous matrix.
func AffineFromMatrix(m mat.Matrix) (*Affine, error) {
	r, c := m.Dims()
	if r != c || r < 2 {
		return nil, fmt.Errorf("libpyramid: affine matrix must be square, got %dx%d", r, c)
	}
	for j := range c {
		want := 0.0
		if j == c-1 {
			want = 1
		}
		if m.At(r-1, j) != want {
			return nil, fmt.Errorf("libpyramid: affine matrix last row is not [0 ... 0 1]")
		}
	}
	return &Affine{m: mat.DenseCopyOf(m)}, nil
}

func (a *Affine) Dim() int {
	r, _ := a.m.Dims()
	return r - 1
}

func (a *Affine) SourceDim() int { return a.Dim() }
func (a *Affine) TargetDim() int { return a.Dim() }

func (a *Affine) At(i, j int) float64 {
	return a.m.At(i, j)
}

func (a *Affine) Set(i, j int, v float64) {
	a.m.Set(i, j, v)
}

func (a *Affine) Scale(axis int) float64 {
	return a.m.At(axis, axis)
}

func (a *Affine) Translation(axis int) float64 {
	return a.m.At(axis, a.Dim())
}

// Matrix returns a copy of the homogeneous matrix.
func (a *Affine) Matrix() *mat.Dense {
	return mat.DenseCopyOf(a.m)
}

func (a *Affine) Clone() *Affine {
	return &Affine{m: mat.DenseCopyOf(a.m)}
}

// Then returns the transform applying a, then b.
func (a *Affine) Then(b *Affine) *Affine {
	var m mat.Dense
	m.Mul(b.m, a.m)
	return &Affine{m: &m}
}

// Translate returns a transform that first shifts source coordinates by offsets, then
// applies a. Missing offsets are zero.
func (a *Affine) Translate(offsets ...float64) *Affine {
	t := NewAffine(a.Dim())
	for i, v := range offsets {
		if i < a.Dim() {
			t.m.Set(i, a.Dim(), v)
		}
	}
	return t.Then(a)
}

// ScaleSource returns a transform that first scales source coordinates by factors, then
// applies a.
func (a *Affine) ScaleSource(factors ...float64) *Affine {
	s := NewAffine(a.Dim())
	for i, v := range factors {
		if i < a.Dim() {
			s.m.Set(i, i, v)
		}
	}
	return s.Then(a)
}

func (a *Affine) Apply(dst, src []float64) error {
	n := a.Dim()
	if len(src) < n || len(dst) < n {
		return &DimensionMismatchError{Expected: n, Actual: min(len(src), len(dst))}
	}
	var buf [4]float64
	tmp := buf[:0]
	if n > len(buf) {
		tmp = make([]float64, 0, n)
	}
	for i := range n {
		v := a.m.At(i, n)
		for j := range n {
			v += a.m.At(i, j) * src[j]
		}
		tmp = append(tmp, v)
	}
	copy(dst, tmp)
	return nil
}

// Invert returns the inverse affine transform.
func (a *Affine) Invert() (*Affine, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.m); err != nil {
		return nil, fmt.Errorf("%w: %v", crs.ErrNotInvertible, err)
	}
	n := a.Dim()
	for j := range n {
		inv.Set(n, j, 0)
	}
	inv.Set(n, n, 1)
	return &Affine{m: &inv}, nil
}

func (a *Affine) Inverse() (crs.Transform, error) {
	inv, err := a.Invert()
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (a *Affine) Derivative([]float64) (*mat.Dense, error) {
	n := a.Dim()
	return mat.DenseCopyOf(a.m.Slice(0, n, 0, n)), nil
}

// Separable reports whether the horizontal pair (axes 0 and 1) is independent of every
// other axis in both directions.
func (a *Affine) Separable() bool {
	n := a.Dim()
	for i := range n {
		for j := range n {
			if (i < 2) != (j < 2) && a.m.At(i, j) != 0 {
				return false
			}
		}
	}
	return true
}

// Horizontal returns the 2-D sub-transform acting on axes 0 and 1. ok is false when the
// transform couples the horizontal axes with another axis.
func (a *Affine) Horizontal() (h *Affine, ok bool) {
	if a.Dim() < 2 || !a.Separable() {
		return nil, false
	}
	n := a.Dim()
	return NewAffine2D(
		a.m.At(0, 0), a.m.At(0, 1),
		a.m.At(1, 0), a.m.At(1, 1),
		a.m.At(0, n), a.m.At(1, n),
	), true
}

// Extend returns an N-D transform whose horizontal pair is a (2-D) and whose other axes
// have scale 0 and the given translation.
func (a *Affine) Extend(translations []float64) *Affine {
	n := 2 + len(translations)
	r := NewAffine(n)
	r.m.Set(0, 0, a.m.At(0, 0))
	r.m.Set(0, 1, a.m.At(0, 1))
	r.m.Set(1, 0, a.m.At(1, 0))
	r.m.Set(1, 1, a.m.At(1, 1))
	r.m.Set(0, n, a.m.At(0, 2))
	r.m.Set(1, n, a.m.At(1, 2))
	for i, t := range translations {
		r.m.Set(2+i, 2+i, 0)
		r.m.Set(2+i, n, t)
	}
	return r
}

// EqualApprox reports whether both transforms have the same dimension and matrices equal
// within eps.
func (a *Affine) EqualApprox(b *Affine, eps float64) bool {
	if a.Dim() != b.Dim() {
		return false
	}
	return mat.EqualApprox(a.m, b.m, eps)
}

// IsIdentity reports whether a is the identity within eps.
func (a *Affine) IsIdentity(eps float64) bool {
	return a.EqualApprox(NewAffine(a.Dim()), eps)
}

func (a *Affine) String() string {
	var sb strings.Builder
	n := a.Dim()
	sb.WriteString("[")
	for i := range n {
		if i > 0 {
			sb.WriteString("; ")
		}
		for j := range n + 1 {
			if j > 0 {
				sb.WriteString(" ")
			}
			v := a.m.At(i, j)
			if v == 0 {
				v = math.Abs(v)
			}
			fmt.Fprintf(&sb, "%g", v)
		}
	}
	sb.WriteString("]")
	return sb.String()
}
