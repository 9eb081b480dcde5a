package reader_test

import (
	"context"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-libpyramid/coverage"
	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/internal"
	"github.com/eak1mov/go-libpyramid/raster"
	"github.com/eak1mov/go-libpyramid/reader"
)

func TestReadGridSubsampled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	img := internal.Gradient(image.Rect(0, 0, 10, 8), model)
	src := reader.NewMemorySource(local, geom.NewAffine2D(2, 0, 0, -2, 100, 50), img, nil)
	r := reader.NewGridReader(src, nil)

	cov, err := r.Read(ctx, coverage.ReadParams{
		Envelope:   geom.NewEnvelope2D(local, 104, 40, 112, 46),
		Resolution: []float64{4, 4},
	})
	require.NoError(t, err)
	grid := cov.(*coverage.GridCoverage)

	want := raster.New(image.Rect(0, 0, 2, 2), model)
	for y := range 2 {
		for x := range 2 {
			want.Set(x, y, 0, img.At(2+2*x, 2+2*y, 0))
		}
	}
	if diff := cmp.Diff(want, grid.Raster); diff != "" {
		t.Errorf("ReadGrid mismatch (-want +got):\n%s", diff)
	}
	if got, want := origin(t, grid.Geometry), []float64{104, 46}; !cmp.Equal(got, want) {
		t.Errorf("origin = %v, want = %v", got, want)
	}
	if got, want := grid.Geometry.Resolution(), []float64{4, 4}; !cmp.Equal(got, want) {
		t.Errorf("resolution = %v, want = %v", got, want)
	}

	cov, err = r.Read(ctx, coverage.ReadParams{})
	require.NoError(t, err)
	if diff := cmp.Diff(img, cov.(*coverage.GridCoverage).Raster); diff != "" {
		t.Errorf("full ReadGrid mismatch (-want +got):\n%s", diff)
	}

	_, err = r.Read(ctx, coverage.ReadParams{Envelope: geom.NewEnvelope2D(local, 0, 0, 10, 10)})
	require.ErrorIs(t, err, coverage.ErrDisjointDomain)
}

func TestReadGridCube(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cube := crs.Compound{Base: local, Axes: []crs.Axis{{Name: "z"}}}

	gridToCRS := geom.NewAffine(3)
	gridToCRS.Set(1, 1, -1)
	gridToCRS.Set(1, 3, 4)
	gridToCRS.Set(2, 2, 10)
	gridToCRS.Set(2, 3, 100)
	extent := geom.NewGridExtent(image.Rect(0, 0, 4, 4), 3)
	extent.High[2] = 3
	src := &reader.MemorySource{
		Geometry: geom.GridGeometry{Extent: extent, GridToCRS: gridToCRS, CRS: cube},
		Rasters: []*raster.Raster{
			raster.NewFilled(image.Rect(0, 0, 4, 4), model, []float64{1}),
			raster.NewFilled(image.Rect(0, 0, 4, 4), model, []float64{2}),
			raster.NewFilled(image.Rect(0, 0, 4, 4), model, []float64{3}),
		},
	}

	cov, err := reader.ReadGrid(ctx, crs.Default, src, coverage.ReadParams{})
	require.NoError(t, err)
	stack, ok := cov.(*coverage.Stack)
	require.True(t, ok, "ReadGrid returned %T", cov)

	type slice struct {
		Lower, Upper, Value, Z float64
	}
	var got []slice
	for _, s := range stack.Slices {
		grid := s.Coverage.(*coverage.GridCoverage)
		got = append(got, slice{s.Lower, s.Upper, grid.Raster.At(2, 2, 0), origin(t, grid.Geometry)[2]})
	}
	want := []slice{{95, 105, 1, 100}, {105, 115, 2, 110}, {115, 125, 3, 120}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stack mismatch (-want +got):\n%s", diff)
	}

	cov, err = reader.ReadGrid(ctx, crs.Default, src, coverage.ReadParams{Envelope: geom.Envelope{
		CRS: cube,
		Min: []float64{0, 0, 110},
		Max: []float64{4, 4, 110},
	}})
	require.NoError(t, err)
	grid, ok := cov.(*coverage.GridCoverage)
	require.True(t, ok, "ReadGrid returned %T", cov)
	require.Equal(t, 2.0, grid.Raster.At(0, 0, 0))

	cov, err = reader.ReadGrid(ctx, crs.Default, src, coverage.ReadParams{Envelope: geom.NewEnvelope2D(local, 1, 1, 3, 3)})
	require.NoError(t, err)
	require.Len(t, coverage.Flatten(cov), 3)
}
