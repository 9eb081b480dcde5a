// Package finder selects the pyramid and mosaics serving a read request.
package finder

import (
	"fmt"
	"math"

	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/pyramid"
)

// Finder picks the pyramid and mosaics to read for a request. Implementations may
// return a pyramid whose CRS differs from the requested one; callers reproject.
type Finder interface {
	// FindPyramid fails only when set has no pyramid.
	FindPyramid(set *pyramid.PyramidSet, target crs.CRS) (*pyramid.Pyramid, error)

	// FindMosaics returns the mosaics of one scale intersecting env, ordered by
	// their position on extra axes. resolution is expressed in pyramid CRS units; a
	// nil resolution selects the coarsest scale. An empty env selects every mosaic
	// of the scale.
	FindMosaics(p *pyramid.Pyramid, resolution []float64, tolerance float64, env geom.Envelope) ([]*pyramid.Mosaic, error)
}

type defaultFinder struct{}

var Default Finder = defaultFinder{}

func (defaultFinder) FindPyramid(set *pyramid.PyramidSet, target crs.CRS) (*pyramid.Pyramid, error) {
	if set == nil || len(set.Pyramids) == 0 {
		return nil, fmt.Errorf("%w: no pyramid", pyramid.ErrNotFound)
	}
	if target == nil {
		return set.Pyramids[0], nil
	}
	for _, p := range set.Pyramids {
		if crs.Equal(p.CRS, target) {
			return p, nil
		}
	}
	for _, p := range set.Pyramids {
		if crs.Equal(p.CRS.Horizontal(), target.Horizontal()) {
			return p, nil
		}
	}
	return set.Pyramids[0], nil
}

// FindMosaics picks the finest scale at least as coarse as the requested resolution,
// less tolerance (relative). When every scale is finer than requested the coarsest
// one is used.
func (defaultFinder) FindMosaics(p *pyramid.Pyramid, resolution []float64, tolerance float64, env geom.Envelope) ([]*pyramid.Mosaic, error) {
	if len(p.Mosaics) == 0 {
		return nil, nil
	}
	scale := selectScale(p.Mosaics, resolution, tolerance)

	var out []*pyramid.Mosaic
	for _, m := range p.Mosaics {
		if m.Scale != scale {
			continue
		}
		if env.Dimension() > 0 && !m.Envelope().Intersects(env) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func selectScale(mosaics []*pyramid.Mosaic, resolution []float64, tolerance float64) float64 {
	// Mosaics are sorted by ascending scale.
	coarsest := mosaics[len(mosaics)-1].Scale
	if len(resolution) == 0 {
		return coarsest
	}
	desired := resolution[0]
	if len(resolution) > 1 {
		desired = math.Min(resolution[0], resolution[1])
	}
	if !(desired > 0) || math.IsInf(desired, 0) {
		return coarsest
	}
	limit := desired * (1 - math.Max(tolerance, 0))
	for _, m := range mosaics {
		if m.Scale >= limit {
			return m.Scale
		}
	}
	return coarsest
}
