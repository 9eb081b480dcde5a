package crs

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrNotInvertible = errors.New("libpyramid: transform is not invertible")

// Transform maps points between coordinate spaces.
type Transform interface {
	SourceDim() int
	TargetDim() int

	// Apply transforms src into dst. dst must have TargetDim elements.
	Apply(dst, src []float64) error

	Inverse() (Transform, error)

	// Derivative returns the TargetDim×SourceDim Jacobian evaluated at point.
	Derivative(point []float64) (*mat.Dense, error)
}

// Point is a convenience wrapper around Apply that allocates the result.
func Point(t Transform, src ...float64) ([]float64, error) {
	if len(src) != t.SourceDim() {
		return nil, fmt.Errorf("libpyramid: point has %d ordinates, transform expects %d", len(src), t.SourceDim())
	}
	dst := make([]float64, t.TargetDim())
	if err := t.Apply(dst, src); err != nil {
		return nil, err
	}
	return dst, nil
}

type identity int

// Identity returns the identity transform of the given dimension.
func Identity(dim int) Transform {
	return identity(dim)
}

// IsIdentity reports whether t is known to be an identity transform.
func IsIdentity(t Transform) bool {
	_, ok := t.(identity)
	return ok
}

func (t identity) SourceDim() int { return int(t) }
func (t identity) TargetDim() int { return int(t) }

func (t identity) Apply(dst, src []float64) error {
	copy(dst, src)
	return nil
}

func (t identity) Inverse() (Transform, error) { return t, nil }

func (t identity) Derivative([]float64) (*mat.Dense, error) {
	d := mat.NewDense(int(t), int(t), nil)
	for i := range int(t) {
		d.Set(i, i, 1)
	}
	return d, nil
}

type concatenated struct {
	first, second Transform
}

// Concatenate returns a transform applying first, then second.
func Concatenate(first, second Transform) (Transform, error) {
	if first.TargetDim() != second.SourceDim() {
		return nil, fmt.Errorf("libpyramid: cannot concatenate %d-D output with %d-D input",
			first.TargetDim(), second.SourceDim())
	}
	if IsIdentity(first) {
		return second, nil
	}
	if IsIdentity(second) {
		return first, nil
	}
	return &concatenated{first: first, second: second}, nil
}

func (t *concatenated) SourceDim() int { return t.first.SourceDim() }
func (t *concatenated) TargetDim() int { return t.second.TargetDim() }

func (t *concatenated) Apply(dst, src []float64) error {
	tmp := make([]float64, t.first.TargetDim())
	if err := t.first.Apply(tmp, src); err != nil {
		return err
	}
	return t.second.Apply(dst, tmp)
}

func (t *concatenated) Inverse() (Transform, error) {
	inv1, err := t.first.Inverse()
	if err != nil {
		return nil, err
	}
	inv2, err := t.second.Inverse()
	if err != nil {
		return nil, err
	}
	return Concatenate(inv2, inv1)
}

func (t *concatenated) Derivative(point []float64) (*mat.Dense, error) {
	d1, err := t.first.Derivative(point)
	if err != nil {
		return nil, err
	}
	mid := make([]float64, t.first.TargetDim())
	if err := t.first.Apply(mid, point); err != nil {
		return nil, err
	}
	d2, err := t.second.Derivative(mid)
	if err != nil {
		return nil, err
	}
	var d mat.Dense
	d.Mul(d2, d1)
	return &d, nil
}

// passThrough applies a 2-D horizontal transform and copies the remaining ordinates.
type passThrough struct {
	horizontal Transform
	extra      int
}

// PassThrough extends a horizontal transform with extra unchanged axes.
func PassThrough(horizontal Transform, extra int) Transform {
	if extra == 0 {
		return horizontal
	}
	if IsIdentity(horizontal) {
		return Identity(horizontal.SourceDim() + extra)
	}
	return &passThrough{horizontal: horizontal, extra: extra}
}

func (t *passThrough) SourceDim() int { return t.horizontal.SourceDim() + t.extra }
func (t *passThrough) TargetDim() int { return t.horizontal.TargetDim() + t.extra }

func (t *passThrough) Apply(dst, src []float64) error {
	n := t.horizontal.SourceDim()
	m := t.horizontal.TargetDim()
	extra := append([]float64(nil), src[n:n+t.extra]...)
	if err := t.horizontal.Apply(dst[:m], src[:n]); err != nil {
		return err
	}
	copy(dst[m:], extra)
	return nil
}

func (t *passThrough) Inverse() (Transform, error) {
	inv, err := t.horizontal.Inverse()
	if err != nil {
		return nil, err
	}
	return PassThrough(inv, t.extra), nil
}

func (t *passThrough) Derivative(point []float64) (*mat.Dense, error) {
	n := t.horizontal.SourceDim()
	m := t.horizontal.TargetDim()
	dh, err := t.horizontal.Derivative(point[:n])
	if err != nil {
		return nil, err
	}
	d := mat.NewDense(m+t.extra, n+t.extra, nil)
	for i := range m {
		for j := range n {
			d.Set(i, j, dh.At(i, j))
		}
	}
	for i := range t.extra {
		d.Set(m+i, n+i, 1)
	}
	return d, nil
}
