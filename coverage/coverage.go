// Package coverage defines the values returned by the read pipelines: gridded
// coverages (eager or rendered on demand), stacks of slices of a data cube, and
// the errors shared by every reader.
package coverage

import (
	"context"
	"image"

	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/raster"
)

// ErrDisjointDomain is returned when a request does not intersect the data. Callers
// aggregating several resources skip the resource instead of failing.
var ErrDisjointDomain = geom.ErrDisjointDomain

// DimensionMismatchError is returned, before any I/O, for requests whose
// dimensionality does not match the data.
type DimensionMismatchError = geom.DimensionMismatchError

// Coverage is a raster function over a CRS domain.
type Coverage interface {
	Envelope() geom.Envelope
	SampleDimensions() []raster.SampleDimension
}

// Gridded is a coverage whose samples are laid out on one grid.
type Gridded interface {
	Coverage
	GridGeometry() geom.GridGeometry
	// Render returns the samples of the whole grid extent.
	Render(ctx context.Context) (*raster.Raster, error)
}

// ReadParams selects what a Reader returns. Zero values mean "everything": the
// native envelope, the native CRS and the coarsest resolution.
type ReadParams struct {
	Envelope   geom.Envelope
	CRS        crs.CRS
	Resolution []float64
	// Deferred asks for a coverage whose tiles are loaded when rendered.
	Deferred bool
}

// Reader reads coverages from a resource.
//
// Read returns a nil coverage and a nil error when the request intersects the
// resource domain but no data is present.
type Reader interface {
	GridGeometry(ctx context.Context) (geom.GridGeometry, error)
	SampleDimensions(ctx context.Context) ([]raster.SampleDimension, error)
	Read(ctx context.Context, params ReadParams) (Coverage, error)
}

// GridCoverage is a gridded coverage held in memory. Raster.Rect matches the
// horizontal extent of Geometry.
type GridCoverage struct {
	Geometry geom.GridGeometry
	Bands    []raster.SampleDimension
	Raster   *raster.Raster
}

var _ Gridded = (*GridCoverage)(nil)

func (c *GridCoverage) Envelope() geom.Envelope                    { return c.Geometry.Envelope() }
func (c *GridCoverage) SampleDimensions() []raster.SampleDimension { return c.Bands }
func (c *GridCoverage) GridGeometry() geom.GridGeometry            { return c.Geometry }

func (c *GridCoverage) Render(context.Context) (*raster.Raster, error) {
	return c.Raster, nil
}

// Image is a lazily computed raster.
type Image interface {
	Bounds() image.Rectangle
	SampleModel(ctx context.Context) (raster.SampleModel, error)
	CopyData(ctx context.Context, r image.Rectangle) (*raster.Raster, error)
}

// RenderedCoverage is a gridded coverage whose samples are computed by an Image on
// demand. Image.Bounds() matches the horizontal extent of Geometry.
type RenderedCoverage struct {
	Geometry geom.GridGeometry
	Bands    []raster.SampleDimension
	Image    Image
}

var _ Gridded = (*RenderedCoverage)(nil)

func (c *RenderedCoverage) Envelope() geom.Envelope                    { return c.Geometry.Envelope() }
func (c *RenderedCoverage) SampleDimensions() []raster.SampleDimension { return c.Bands }
func (c *RenderedCoverage) GridGeometry() geom.GridGeometry            { return c.Geometry }

func (c *RenderedCoverage) Render(ctx context.Context) (*raster.Raster, error) {
	return c.Image.CopyData(ctx, c.Image.Bounds())
}
