package coverage

import (
	"fmt"
	"sort"

	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/raster"
)

// Slice is one member of a Stack, valid for Lower <= v < Upper along the stack axis.
type Slice struct {
	Lower    float64
	Upper    float64
	Coverage Coverage
}

// Stack is an ordered set of coverages along one CRS axis. Slices are sorted by
// Lower and do not overlap.
type Stack struct {
	Axis   int
	Slices []Slice
}

var _ Coverage = (*Stack)(nil)

// NewSlices assigns validity ranges to coverages positioned at sorted values along
// an axis: interior ranges go from midpoint to midpoint, the outer ones mirror the
// adjacent half-width and a single value gets [v-0.5, v+0.5).
func NewSlices(values []float64, coverages []Coverage) ([]Slice, error) {
	if len(values) != len(coverages) {
		return nil, fmt.Errorf("libpyramid: %d slice values for %d coverages", len(values), len(coverages))
	}
	if !sort.Float64sAreSorted(values) {
		return nil, fmt.Errorf("libpyramid: slice values %v are not sorted", values)
	}
	n := len(values)
	slices := make([]Slice, n)
	for i, v := range values {
		s := Slice{Coverage: coverages[i]}
		switch {
		case n == 1:
			s.Lower, s.Upper = v-0.5, v+0.5
		case i == 0:
			half := (values[1] - v) / 2
			s.Lower, s.Upper = v-half, v+half
		case i == n-1:
			half := (v - values[i-1]) / 2
			s.Lower, s.Upper = v-half, v+half
		default:
			s.Lower = (values[i-1] + v) / 2
			s.Upper = (v + values[i+1]) / 2
		}
		slices[i] = s
	}
	return slices, nil
}

// Envelope returns the union of the slice envelopes, spanning the slice ranges along
// the stack axis.
func (s *Stack) Envelope() geom.Envelope {
	if len(s.Slices) == 0 {
		return geom.Envelope{}
	}
	env := s.Slices[0].Coverage.Envelope()
	for _, sl := range s.Slices[1:] {
		env = env.Union(sl.Coverage.Envelope())
	}
	if s.Axis < env.Dimension() {
		env.Min[s.Axis] = s.Slices[0].Lower
		env.Max[s.Axis] = s.Slices[len(s.Slices)-1].Upper
	}
	return env
}

func (s *Stack) SampleDimensions() []raster.SampleDimension {
	if len(s.Slices) == 0 {
		return nil
	}
	return s.Slices[0].Coverage.SampleDimensions()
}

// At returns the slice whose range contains v.
func (s *Stack) At(v float64) (Slice, bool) {
	i := sort.Search(len(s.Slices), func(i int) bool { return s.Slices[i].Upper > v })
	if i < len(s.Slices) && s.Slices[i].Lower <= v {
		return s.Slices[i], true
	}
	return Slice{}, false
}

// Flatten returns the gridded coverages of s in order, descending into nested stacks.
func Flatten(c Coverage) []Gridded {
	switch c := c.(type) {
	case *Stack:
		var out []Gridded
		for _, sl := range c.Slices {
			out = append(out, Flatten(sl.Coverage)...)
		}
		return out
	case Gridded:
		return []Gridded{c}
	}
	return nil
}
