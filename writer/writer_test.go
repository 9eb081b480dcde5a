package writer_test

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/eak1mov/go-libpyramid/coverage"
	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/internal"
	"github.com/eak1mov/go-libpyramid/pyramid"
	"github.com/eak1mov/go-libpyramid/raster"
	"github.com/eak1mov/go-libpyramid/reader"
	"github.com/eak1mov/go-libpyramid/writer"
)

var (
	local = crs.Cartesian{Code: "LOCAL:grid"}
	model = raster.SampleModel{DataType: raster.Uint8, Bands: 1}
	bands = []raster.SampleDimension{{Name: "value", NoData: raster.NoData(0)}}
)

// setup creates a pyramid with a 3x2 grid of 8x8 tiles at scale 1 and a 2x1 grid at
// scale 2, both anchored at (0, 16).
func setup(t *testing.T, s pyramid.Store) (fine, coarse *pyramid.Mosaic) {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreatePyramid(ctx, local)
	require.NoError(t, err)
	fine, err = s.CreateMosaic(ctx, p.ID, pyramid.MosaicSpec{
		UpperLeft: []float64{0, 16},
		GridSize:  pyramid.Size{Width: 3, Height: 2},
		TileSize:  pyramid.Size{Width: 8, Height: 8},
		Scale:     1,
	})
	require.NoError(t, err)
	coarse, err = s.CreateMosaic(ctx, p.ID, pyramid.MosaicSpec{
		UpperLeft: []float64{0, 16},
		GridSize:  pyramid.Size{Width: 2, Height: 1},
		TileSize:  pyramid.Size{Width: 8, Height: 8},
		Scale:     2,
	})
	require.NoError(t, err)
	return fine, coarse
}

// source returns a coverage aligned with the fine mosaic covering x 0..24, y 0..16.
func source(r *raster.Raster) *coverage.GridCoverage {
	return &coverage.GridCoverage{
		Geometry: geom.NewGridGeometry2D(local, r.Rect, geom.NewAffine2D(1, 0, 0, -1, 0, 16)),
		Bands:    bands,
		Raster:   r,
	}
}

func TestTaskGenerator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := pyramid.NewMemoryStore()
	fine, coarse := setup(t, s)
	set, err := s.PyramidSet(ctx)
	require.NoError(t, err)
	cov := source(internal.Gradient(image.Rect(0, 0, 24, 16), model))

	gen, err := writer.NewTaskGenerator(crs.Default, set, cov.Geometry, cov.Envelope())
	require.NoError(t, err)
	require.Equal(t, 8, gen.Total())

	type task struct {
		Mosaic string
		Coord  pyramid.TileCoord
		Region image.Rectangle
	}
	var got []task
	for {
		tk, ok := gen.Next()
		if !ok {
			break
		}
		got = append(got, task{tk.Mosaic.ID, tk.Coord, tk.Region})
	}
	full := image.Rect(0, 0, 8, 8)
	want := []task{
		{fine.ID, pyramid.TileCoord{Col: 0, Row: 0}, full},
		{fine.ID, pyramid.TileCoord{Col: 1, Row: 0}, full},
		{fine.ID, pyramid.TileCoord{Col: 2, Row: 0}, full},
		{fine.ID, pyramid.TileCoord{Col: 0, Row: 1}, full},
		{fine.ID, pyramid.TileCoord{Col: 1, Row: 1}, full},
		{fine.ID, pyramid.TileCoord{Col: 2, Row: 1}, full},
		{coarse.ID, pyramid.TileCoord{Col: 0, Row: 0}, full},
		{coarse.ID, pyramid.TileCoord{Col: 1, Row: 0}, image.Rect(0, 0, 4, 8)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tasks mismatch (-want +got):\n%s", diff)
	}
	if _, ok := gen.Next(); ok {
		t.Errorf("exhausted generator produced a task")
	}
}

func TestTaskGeneratorConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := pyramid.NewMemoryStore()
	p, err := s.CreatePyramid(ctx, local)
	require.NoError(t, err)
	for _, scale := range []float64{1, 2, 4} {
		_, err := s.CreateMosaic(ctx, p.ID, pyramid.MosaicSpec{
			UpperLeft: []float64{0, 1024},
			GridSize:  pyramid.Size{Width: 64 / int(scale), Height: 64 / int(scale)},
			TileSize:  pyramid.Size{Width: 16, Height: 16},
			Scale:     scale,
		})
		require.NoError(t, err)
	}
	set, err := s.PyramidSet(ctx)
	require.NoError(t, err)
	g := geom.NewGridGeometry2D(local, image.Rect(0, 0, 1024, 1024), geom.NewAffine2D(1, 0, 0, -1, 0, 1024))

	gen, err := writer.NewTaskGenerator(crs.Default, set, g, g.Envelope())
	require.NoError(t, err)
	const total = 64*64 + 32*32 + 16*16
	require.Equal(t, total, gen.Total())

	type key struct {
		Mosaic string
		Coord  pyramid.TileCoord
	}
	var mu sync.Mutex
	seen := make(map[key]int)
	var eg errgroup.Group
	for range 16 {
		eg.Go(func() error {
			for {
				tk, ok := gen.Next()
				if !ok {
					return nil
				}
				mu.Lock()
				seen[key{tk.Mosaic.ID, tk.Coord}]++
				mu.Unlock()
			}
		})
	}
	require.NoError(t, eg.Wait())
	require.Len(t, seen, total)
	for k, n := range seen {
		if n != 1 {
			t.Errorf("task %v produced %d times", k, n)
		}
	}
}

func TestWriteRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, open := range internal.PyramidStores() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := open(t)
			setup(t, s)
			src := internal.Gradient(image.Rect(0, 0, 24, 16), model)
			w := writer.New(s, writer.WithWorkers(4))
			require.NoError(t, w.Write(ctx, source(src), writer.Params{}))

			r := reader.NewPyramidReader(s, reader.WithSampleDimensions(bands))
			cov, err := r.Read(ctx, coverage.ReadParams{Resolution: []float64{1, 1}})
			require.NoError(t, err)
			if diff := cmp.Diff(src, cov.(*coverage.GridCoverage).Raster); diff != "" {
				t.Errorf("native read mismatch (-want +got):\n%s", diff)
			}

			cov, err = r.Read(ctx, coverage.ReadParams{
				Envelope:   geom.NewEnvelope2D(local, 0, 0, 24, 16),
				Resolution: []float64{2, 2},
			})
			require.NoError(t, err)
			want := raster.New(image.Rect(0, 0, 16, 8), model)
			for y := range 8 {
				for x := range 12 {
					want.Set(x, y, 0, src.At(2*x+1, 2*y+1, 0))
				}
			}
			if diff := cmp.Diff(want, cov.(*coverage.GridCoverage).Raster); diff != "" {
				t.Errorf("coarse read mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteEnvelope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := pyramid.NewMemoryStore()
	fine, coarse := setup(t, s)

	w := writer.New(s)
	err := w.Write(ctx, source(internal.Gradient(image.Rect(0, 0, 24, 16), model)), writer.Params{
		Envelope: geom.NewEnvelope2D(local, 0, 8, 8, 16),
	})
	require.NoError(t, err)

	var got []pyramid.TileCoord
	for _, m := range []*pyramid.Mosaic{fine, coarse} {
		for row := range m.GridSize.Height {
			for col := range m.GridSize.Width {
				c := pyramid.TileCoord{Col: col, Row: row}
				ok, err := s.HasTile(ctx, m, c)
				require.NoError(t, err)
				if ok {
					got = append(got, c)
				}
			}
		}
	}
	want := []pyramid.TileCoord{{Col: 0, Row: 0}, {Col: 0, Row: 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("written tiles mismatch (-want +got):\n%s", diff)
	}

	tl, err := s.ReadTile(ctx, coarse, pyramid.TileCoord{})
	require.NoError(t, err)
	img, err := tl.Load()
	require.NoError(t, err)
	require.Equal(t, 0.0, img.At(4, 0, 0), "pixel outside the envelope must keep the fill value")
	require.NotEqual(t, 0.0, img.At(3, 3, 0))

	err = w.Write(ctx, source(internal.Gradient(image.Rect(0, 0, 24, 16), model)), writer.Params{
		Envelope: geom.NewEnvelope2D(local, 100, 100, 200, 200),
	})
	require.ErrorIs(t, err, coverage.ErrDisjointDomain)
}

func TestWriteEmptyTiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := pyramid.NewMemoryStore()
	fine, _ := setup(t, s)
	c := pyramid.TileCoord{Col: 1, Row: 1}
	require.NoError(t, s.WriteTile(ctx, fine, c, internal.Gradient(image.Rect(0, 0, 8, 8), model)))

	// Only tile (0, 0) of the fine mosaic gets non-zero samples.
	src := raster.New(image.Rect(0, 0, 24, 16), model)
	src.Set(3, 3, 0, 42)
	require.NoError(t, writer.New(s).Write(ctx, source(src), writer.Params{}))

	ok, err := s.HasTile(ctx, fine, pyramid.TileCoord{})
	require.NoError(t, err)
	require.True(t, ok)
	for _, c := range []pyramid.TileCoord{{Col: 1, Row: 0}, {Col: 1, Row: 1}, {Col: 2, Row: 1}} {
		ok, err := s.HasTile(ctx, fine, c)
		require.NoError(t, err)
		require.False(t, ok, "tile %v holds only fill values", c)
	}
}

func TestWriteInterpolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, interp := range []raster.Interpolation{raster.Nearest, raster.Bilinear, raster.Bicubic} {
		t.Run(interp.String(), func(t *testing.T) {
			t.Parallel()
			s := pyramid.NewMemoryStore()
			_, coarse := setup(t, s)
			src := raster.NewFilled(image.Rect(0, 0, 24, 16), model, []float64{7})
			require.NoError(t, writer.New(s).Write(ctx, source(src), writer.Params{Interpolation: interp}))

			tl, err := s.ReadTile(ctx, coarse, pyramid.TileCoord{})
			require.NoError(t, err)
			got, err := tl.Load()
			require.NoError(t, err)
			want := raster.NewFilled(image.Rect(0, 0, 8, 8), model, []float64{7})
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("%v tile mismatch (-want +got):\n%s", interp, diff)
			}
		})
	}
}

func TestWriteStack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cube := crs.Compound{Base: local, Axes: []crs.Axis{{Name: "z"}}}
	s := pyramid.NewMemoryStore()
	p, err := s.CreatePyramid(ctx, cube)
	require.NoError(t, err)
	mosaics := make(map[float64]*pyramid.Mosaic)
	for _, z := range []float64{1, 2, 3} {
		m, err := s.CreateMosaic(ctx, p.ID, pyramid.MosaicSpec{
			UpperLeft: []float64{0, 4, z},
			GridSize:  pyramid.Size{Width: 1, Height: 1},
			TileSize:  pyramid.Size{Width: 4, Height: 4},
			Scale:     1,
		})
		require.NoError(t, err)
		mosaics[z] = m
	}

	var covs []coverage.Coverage
	for _, z := range []float64{1, 2} {
		covs = append(covs, &coverage.GridCoverage{
			Geometry: geom.GridGeometry{
				Extent:    geom.NewGridExtent(image.Rect(0, 0, 4, 4), 3),
				GridToCRS: geom.NewAffine2D(1, 0, 0, -1, 0, 4).Extend([]float64{z}),
				CRS:       cube,
			},
			Bands:  bands,
			Raster: raster.NewFilled(image.Rect(0, 0, 4, 4), model, []float64{z * 10}),
		})
	}
	slices, err := coverage.NewSlices([]float64{1, 2}, covs)
	require.NoError(t, err)
	require.NoError(t, writer.New(s).Write(ctx, &coverage.Stack{Axis: 2, Slices: slices}, writer.Params{}))

	for z, want := range map[float64]float64{1: 10, 2: 20} {
		tl, err := s.ReadTile(ctx, mosaics[z], pyramid.TileCoord{})
		require.NoError(t, err)
		require.NotNil(t, tl, "slice z=%v", z)
		img, err := tl.Load()
		require.NoError(t, err)
		require.Equal(t, want, img.At(2, 2, 0))
	}
	ok, err := s.HasTile(ctx, mosaics[3], pyramid.TileCoord{})
	require.NoError(t, err)
	require.False(t, ok)
}

var errBroken = errors.New("broken store")

type brokenStore struct {
	pyramid.Store
	broken pyramid.TileCoord
}

func (s *brokenStore) WriteTile(ctx context.Context, m *pyramid.Mosaic, c pyramid.TileCoord, r *raster.Raster) error {
	if c == s.broken {
		return errBroken
	}
	return s.Store.WriteTile(ctx, m, c, r)
}

func TestWriteFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := &brokenStore{Store: pyramid.NewMemoryStore(), broken: pyramid.TileCoord{Col: 2, Row: 1}}
	setup(t, s)

	var mu sync.Mutex
	var done, total int
	w := writer.New(s, writer.WithWorkers(2), writer.WithProgress(func(n, t int) {
		mu.Lock()
		defer mu.Unlock()
		done, total = max(done, n), t
	}))
	err := w.Write(ctx, source(internal.Gradient(image.Rect(0, 0, 24, 16), model)), writer.Params{})
	require.ErrorIs(t, err, errBroken)
	require.ErrorContains(t, err, "write tile (2,1)")
	require.Equal(t, 8, total)
	require.Less(t, done, 8)
}
