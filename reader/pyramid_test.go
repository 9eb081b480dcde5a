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
	"github.com/eak1mov/go-libpyramid/kvstore"
	"github.com/eak1mov/go-libpyramid/pyramid"
	"github.com/eak1mov/go-libpyramid/raster"
	"github.com/eak1mov/go-libpyramid/reader"
	"github.com/eak1mov/go-libpyramid/tile"
)

var (
	local = crs.Cartesian{Code: "LOCAL:grid"}
	model = raster.SampleModel{DataType: raster.Uint8, Bands: 1}
)

// setup creates a 3x2 grid of 8x8 tiles at scale 1 covering x 0..24, y 0..16, and
// writes the given tiles. Tile samples are a gradient over mosaic pixel coordinates.
func setup(t *testing.T, s pyramid.Store, tiles ...pyramid.TileCoord) *pyramid.Mosaic {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreatePyramid(ctx, local)
	require.NoError(t, err)
	m, err := s.CreateMosaic(ctx, p.ID, pyramid.MosaicSpec{
		UpperLeft: []float64{0, 16},
		GridSize:  pyramid.Size{Width: 3, Height: 2},
		TileSize:  pyramid.Size{Width: 8, Height: 8},
		Scale:     1,
	})
	require.NoError(t, err)
	for _, c := range tiles {
		require.NoError(t, s.WriteTile(ctx, m, c, internal.Gradient(m.TileBounds(c), model)))
	}
	return m
}

func allTiles() []pyramid.TileCoord {
	var out []pyramid.TileCoord
	for row := range 2 {
		for col := range 3 {
			out = append(out, pyramid.TileCoord{Col: col, Row: row})
		}
	}
	return out
}

func origin(t *testing.T, g geom.GridGeometry) []float64 {
	t.Helper()
	p := make([]float64, g.Dimension())
	require.NoError(t, g.GridToCRS.Apply(p, make([]float64, g.Dimension())))
	return p
}

func TestReadEager(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, open := range internal.PyramidStores() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := open(t)
			setup(t, s, allTiles()...)
			r := reader.NewPyramidReader(s, reader.WithWorkers(3))

			cov, err := r.Read(ctx, coverage.ReadParams{})
			require.NoError(t, err)
			grid := cov.(*coverage.GridCoverage)
			if diff := cmp.Diff(internal.Gradient(image.Rect(0, 0, 24, 16), model), grid.Raster); diff != "" {
				t.Errorf("full read mismatch (-want +got):\n%s", diff)
			}
			if got, want := origin(t, grid.Geometry), []float64{0, 16}; !cmp.Equal(got, want) {
				t.Errorf("origin = %v, want = %v", got, want)
			}

			cov, err = r.Read(ctx, coverage.ReadParams{
				Envelope:   geom.NewEnvelope2D(local, 9, 1, 15, 7),
				Resolution: []float64{1, 1},
			})
			require.NoError(t, err)
			grid = cov.(*coverage.GridCoverage)
			want := internal.Gradient(image.Rect(8, 8, 16, 16), model).Translate(image.Point{})
			if diff := cmp.Diff(want, grid.Raster); diff != "" {
				t.Errorf("window read mismatch (-want +got):\n%s", diff)
			}
			if got, want := origin(t, grid.Geometry), []float64{8, 8}; !cmp.Equal(got, want) {
				t.Errorf("origin = %v, want = %v", got, want)
			}
		})
	}
}

func TestReadDeferred(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := pyramid.NewMemoryStore()
	setup(t, s, pyramid.TileCoord{Col: 0, Row: 0}, pyramid.TileCoord{Col: 2, Row: 1})
	r := reader.NewPyramidReader(s, reader.WithFill([]float64{9}))

	eager, err := r.Read(ctx, coverage.ReadParams{})
	require.NoError(t, err)
	deferred, err := r.Read(ctx, coverage.ReadParams{Deferred: true})
	require.NoError(t, err)
	rendered, ok := deferred.(*coverage.RenderedCoverage)
	require.True(t, ok, "deferred read returned %T", deferred)

	want, err := eager.(coverage.Gridded).Render(ctx)
	require.NoError(t, err)
	got, err := rendered.Render(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("deferred read mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 9.0, got.At(8, 0, 0))
	require.Equal(t, 9.0, got.At(0, 8, 0))
	require.Equal(t, internal.Gradient(image.Rect(16, 8, 24, 16), model).At(20, 10, 0), got.At(20, 10, 0))
}

func TestReadNoTiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := pyramid.NewMemoryStore()
	setup(t, s, pyramid.TileCoord{Col: 0, Row: 0})
	r := reader.NewPyramidReader(s)

	cov, err := r.Read(ctx, coverage.ReadParams{Envelope: geom.NewEnvelope2D(local, 17, 1, 23, 7)})
	require.NoError(t, err)
	require.Nil(t, cov)

	_, err = r.Read(ctx, coverage.ReadParams{Envelope: geom.NewEnvelope2D(local, 100, 1, 200, 7)})
	require.ErrorIs(t, err, coverage.ErrDisjointDomain)

	_, err = reader.NewPyramidReader(pyramid.NewMemoryStore()).Read(ctx, coverage.ReadParams{})
	require.ErrorIs(t, err, coverage.ErrDisjointDomain)
}

func TestReadDimensionMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := pyramid.NewMemoryStore()
	setup(t, s, allTiles()...)
	r := reader.NewPyramidReader(s)

	var mismatch *coverage.DimensionMismatchError
	_, err := r.Read(ctx, coverage.ReadParams{Envelope: geom.Envelope{
		CRS: local,
		Min: []float64{0, 0, 0, 0},
		Max: []float64{1, 1, 1, 1},
	}})
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, 2, mismatch.Expected)

	_, err = r.Read(ctx, coverage.ReadParams{Resolution: []float64{1, 1, 1}})
	require.ErrorAs(t, err, &mismatch)
}

func TestReadSkipsCorruptTiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend, err := kvstore.Open("", kvstore.WithInMemory())
	require.NoError(t, err)
	s := pyramid.NewStore(backend)
	defer s.Close()
	m := setup(t, s, pyramid.TileCoord{Col: 0, Row: 0})

	corrupt, err := raster.Codec{}.Encode(internal.Gradient(image.Rect(0, 0, 8, 8), model))
	require.NoError(t, err)
	corrupt[len(corrupt)-1] ^= 0xff
	require.NoError(t, backend.WriteTile(tile.ID{Pyramid: m.PyramidID, Mosaic: m.ID, Col: 1, Row: 0}, corrupt))

	r := reader.NewPyramidReader(s, reader.WithSampleDimensions([]raster.SampleDimension{{Name: "v", NoData: raster.NoData(255)}}))
	cov, err := r.Read(ctx, coverage.ReadParams{})
	require.NoError(t, err)
	grid := cov.(*coverage.GridCoverage)
	require.Equal(t, 255.0, grid.Raster.At(10, 2, 0))
	require.Equal(t, internal.Gradient(image.Rect(0, 0, 8, 8), model).At(3, 3, 0), grid.Raster.At(3, 3, 0))

	require.NoError(t, backend.WriteTile(tile.ID{Pyramid: m.PyramidID, Mosaic: m.ID, Col: 2, Row: 0}, []byte("not a raster at all, really not")))
	_, err = r.Read(ctx, coverage.ReadParams{})
	require.ErrorIs(t, err, raster.ErrUnknownCodec)
}

func TestReadBandMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := pyramid.NewMemoryStore()
	m := setup(t, s, allTiles()...)
	wide := raster.SampleModel{DataType: raster.Uint8, Bands: 2}
	c := pyramid.TileCoord{Col: 1, Row: 0}
	require.NoError(t, s.WriteTile(ctx, m, c, internal.Gradient(m.TileBounds(c), wide)))

	_, err := reader.NewPyramidReader(s, reader.WithWorkers(1)).Read(ctx, coverage.ReadParams{})
	require.ErrorContains(t, err, "cannot copy 2 bands into 1")
	require.NotErrorIs(t, err, context.Canceled)
}

func TestReadCancelled(t *testing.T) {
	t.Parallel()
	s := pyramid.NewMemoryStore()
	setup(t, s, allTiles()...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := reader.NewPyramidReader(s).Read(ctx, coverage.ReadParams{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestReadCube(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cube := crs.Compound{Base: local, Axes: []crs.Axis{{Name: "z"}}}
	s := pyramid.NewMemoryStore()
	p, err := s.CreatePyramid(ctx, cube)
	require.NoError(t, err)
	for _, z := range []float64{3, 1, 2} {
		m, err := s.CreateMosaic(ctx, p.ID, pyramid.MosaicSpec{
			UpperLeft: []float64{0, 4, z},
			GridSize:  pyramid.Size{Width: 1, Height: 1},
			TileSize:  pyramid.Size{Width: 4, Height: 4},
			Scale:     1,
		})
		require.NoError(t, err)
		img := raster.NewFilled(image.Rect(0, 0, 4, 4), model, []float64{z * 10})
		require.NoError(t, s.WriteTile(ctx, m, pyramid.TileCoord{}, img))
	}
	r := reader.NewPyramidReader(s)

	cov, err := r.Read(ctx, coverage.ReadParams{})
	require.NoError(t, err)
	stack, ok := cov.(*coverage.Stack)
	require.True(t, ok, "cube read returned %T", cov)
	require.Equal(t, 2, stack.Axis)

	type slice struct {
		Lower, Upper, Value, Z float64
	}
	var got []slice
	for _, s := range stack.Slices {
		grid := s.Coverage.(*coverage.GridCoverage)
		got = append(got, slice{s.Lower, s.Upper, grid.Raster.At(0, 0, 0), origin(t, grid.Geometry)[2]})
	}
	want := []slice{{0.5, 1.5, 10, 1}, {1.5, 2.5, 20, 2}, {2.5, 3.5, 30, 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stack mismatch (-want +got):\n%s", diff)
	}

	cov, err = r.Read(ctx, coverage.ReadParams{Envelope: geom.Envelope{
		CRS: cube,
		Min: []float64{0, 0, 2},
		Max: []float64{4, 4, 2},
	}})
	require.NoError(t, err)
	grid, ok := cov.(*coverage.GridCoverage)
	require.True(t, ok, "slice read returned %T", cov)
	require.Equal(t, 20.0, grid.Raster.At(1, 1, 0))
	require.Equal(t, []float64{2}, grid.Envelope().Min[2:])
}

func TestGridGeometry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := pyramid.NewMemoryStore()
	m := setup(t, s)
	_, err := s.CreateMosaic(ctx, m.PyramidID, pyramid.MosaicSpec{
		UpperLeft: []float64{0, 16},
		GridSize:  pyramid.Size{Width: 1, Height: 1},
		TileSize:  pyramid.Size{Width: 8, Height: 8},
		Scale:     4,
	})
	require.NoError(t, err)

	g, err := reader.NewPyramidReader(s).GridGeometry(ctx)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 32, 32), g.Extent.Rect())
	require.Equal(t, []float64{1, 1}, g.Resolution())
	env := g.Envelope()
	require.Equal(t, []float64{0, -16}, env.Min)
	require.Equal(t, []float64{32, 16}, env.Max)
}
