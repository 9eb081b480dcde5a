// Package crs provides the coordinate reference system abstractions consumed by the
// pyramid engine, together with a small set of built-in systems and operations.
//
// The engine never depends on a particular projection library: everything goes through
// the CRS, Transform and Service interfaces. The built-ins cover geographic WGS84,
// spherical Web Mercator, local cartesian systems and compound systems with extra
// (non-horizontal) axes such as time or elevation.
package crs

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownCRS = errors.New("libpyramid: unknown coordinate reference system")

// CRS is a coordinate reference system. Axes 0 and 1 are always the horizontal pair.
type CRS interface {
	// Name returns an identifier such as "EPSG:3857" or "EPSG:4326+time".
	Name() string

	// Dimension returns the number of axes.
	Dimension() int

	// Horizontal returns the two-dimensional horizontal component (the CRS itself
	// when it is already two-dimensional).
	Horizontal() CRS
}

// Axis describes a non-horizontal axis of a compound CRS.
type Axis struct {
	Name string
	Unit string
}

// Geographic is WGS84 with longitude/latitude axis order, in degrees.
type Geographic struct{}

func (Geographic) Name() string      { return "EPSG:4326" }
func (Geographic) Dimension() int    { return 2 }
func (g Geographic) Horizontal() CRS { return g }

// WebMercator is the spherical (pseudo) Mercator projection, in meters.
type WebMercator struct{}

func (WebMercator) Name() string      { return "EPSG:3857" }
func (WebMercator) Dimension() int    { return 2 }
func (m WebMercator) Horizontal() CRS { return m }

// Cartesian is an engineering (local) 2-D system identified only by its code.
// Operations exist only between identical codes.
type Cartesian struct {
	Code string
}

func (c Cartesian) Name() string    { return c.Code }
func (Cartesian) Dimension() int    { return 2 }
func (c Cartesian) Horizontal() CRS { return c }

// Compound extends a horizontal CRS with additional axes.
type Compound struct {
	Base CRS
	Axes []Axis
}

func (c Compound) Name() string {
	var sb strings.Builder
	sb.WriteString(c.Base.Name())
	for _, axis := range c.Axes {
		sb.WriteByte('+')
		sb.WriteString(axis.Name)
	}
	return sb.String()
}

func (c Compound) Dimension() int  { return c.Base.Dimension() + len(c.Axes) }
func (c Compound) Horizontal() CRS { return c.Base.Horizontal() }

var (
	WGS84    CRS = Geographic{}
	Mercator CRS = WebMercator{}
)

// Equal reports whether a and b denote the same system.
func Equal(a, b CRS) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Name() == b.Name()
}

// ExtraAxes returns the axes beyond the horizontal pair, or nil.
func ExtraAxes(c CRS) []Axis {
	if compound, ok := c.(Compound); ok {
		return compound.Axes
	}
	return nil
}

// Parse resolves names like "EPSG:3857", "CRS:84", "LOCAL:grid" or
// "EPSG:4326+time+elevation" into a CRS.
func Parse(name string) (CRS, error) {
	parts := strings.Split(strings.TrimSpace(name), "+")
	var base CRS
	switch code := strings.ToUpper(parts[0]); {
	case code == "EPSG:4326" || code == "CRS:84" || code == "WGS84":
		base = WGS84
	case code == "EPSG:3857" || code == "EPSG:900913":
		base = Mercator
	case strings.HasPrefix(code, "LOCAL:") && len(code) > len("LOCAL:"):
		base = Cartesian{Code: parts[0]}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCRS, name)
	}
	if len(parts) == 1 {
		return base, nil
	}
	axes := make([]Axis, 0, len(parts)-1)
	for _, p := range parts[1:] {
		if p == "" {
			return nil, fmt.Errorf("%w: empty axis in %q", ErrUnknownCRS, name)
		}
		axes = append(axes, Axis{Name: p})
	}
	return Compound{Base: base, Axes: axes}, nil
}
