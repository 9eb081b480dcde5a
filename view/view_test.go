package view_test

import (
	"context"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/eak1mov/go-libpyramid/coverage"
	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/internal"
	"github.com/eak1mov/go-libpyramid/pyramid"
	"github.com/eak1mov/go-libpyramid/raster"
	"github.com/eak1mov/go-libpyramid/view"
)

var model = raster.SampleModel{DataType: raster.Int16, Bands: 2}

func setup(t *testing.T, s pyramid.Store, tiles ...pyramid.TileCoord) *pyramid.Mosaic {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreatePyramid(ctx, crs.Cartesian{Code: "LOCAL:grid"})
	require.NoError(t, err)
	m, err := s.CreateMosaic(ctx, p.ID, pyramid.MosaicSpec{
		UpperLeft: []float64{0, 0},
		GridSize:  pyramid.Size{Width: 3, Height: 2},
		TileSize:  pyramid.Size{Width: 4, Height: 4},
		Scale:     1,
	})
	require.NoError(t, err)
	for _, c := range tiles {
		require.NoError(t, s.WriteTile(ctx, m, c, internal.Gradient(image.Rect(0, 0, 4, 4), model)))
	}
	return m
}

func TestView(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	want := internal.Gradient(image.Rect(0, 0, 4, 4), model)

	for name, open := range internal.PyramidStores() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := open(t)
			m := setup(t, s, pyramid.TileCoord{Col: 0, Row: 0}, pyramid.TileCoord{Col: 2, Row: 1})

			v, err := view.New(s, m, image.Rect(1, 0, 3, 2), view.WithFill([]float64{7, 7}))
			require.NoError(t, err)
			require.Equal(t, image.Rect(0, 0, 8, 8), v.Bounds())

			got, err := v.SampleModel(ctx)
			require.NoError(t, err)
			require.Equal(t, model, got)

			r, err := v.Tile(ctx, 2, 1)
			require.NoError(t, err)
			if diff := cmp.Diff(want.Translate(image.Pt(4, 4)), r); diff != "" {
				t.Errorf("Tile(2,1) mismatch (-want +got):\n%s", diff)
			}

			blank, err := v.Tile(ctx, 1, 0)
			require.NoError(t, err)
			if diff := cmp.Diff(raster.NewFilled(image.Rect(0, 0, 4, 4), model, []float64{7, 7}), blank); diff != "" {
				t.Errorf("Tile(1,0) mismatch (-want +got):\n%s", diff)
			}

			_, err = v.Tile(ctx, 0, 0)
			require.ErrorIs(t, err, pyramid.ErrInvalidTile)

			data, err := v.CopyData(ctx, image.Rect(2, 2, 6, 6))
			require.NoError(t, err)
			require.Equal(t, image.Rect(2, 2, 6, 6), data.Rect)
			for b := range 2 {
				require.Equal(t, 7.0, data.At(2, 2, b))
				require.Equal(t, 7.0, data.At(5, 3, b))
				require.Equal(t, want.At(1, 1, b), data.At(5, 5, b))
				require.Equal(t, want.At(0, 0, b), data.At(4, 4, b))
			}

			_, err = v.CopyData(ctx, image.Rect(8, 8, 10, 10))
			require.ErrorIs(t, err, coverage.ErrDisjointDomain)
		})
	}
}

func TestViewNoTiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := pyramid.NewMemoryStore()
	m := setup(t, s)

	v, err := view.New(s, m, image.Rect(0, 0, 3, 2))
	require.NoError(t, err)
	_, err = v.SampleModel(ctx)
	require.ErrorIs(t, err, view.ErrNoTiles)
	_, err = v.Tile(ctx, 0, 0)
	require.ErrorIs(t, err, view.ErrNoTiles)

	v, err = view.New(s, m, image.Rect(0, 0, 3, 2), view.WithSampleModel(model))
	require.NoError(t, err)
	r, err := v.CopyData(ctx, v.Bounds())
	require.NoError(t, err)
	require.True(t, r.IsEmpty(nil))
}

func TestViewCacheFirstWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := pyramid.NewMemoryStore()
	m := setup(t, s, pyramid.TileCoord{Col: 1, Row: 1})

	v, err := view.New(s, m, image.Rect(0, 0, 3, 2), view.WithCacheSize(2))
	require.NoError(t, err)

	results := make([]*raster.Raster, 16)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			r, err := v.Tile(ctx, 1, 1)
			results[i] = r
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, r := range results[1:] {
		require.Same(t, results[0], r)
	}

	cached, err := v.Tile(ctx, 1, 1)
	require.NoError(t, err)
	require.Same(t, results[0], cached)

	for _, c := range []pyramid.TileCoord{{Col: 0, Row: 0}, {Col: 2, Row: 0}} {
		_, err := v.Tile(ctx, c.Col, c.Row)
		require.NoError(t, err)
	}
	reloaded, err := v.Tile(ctx, 1, 1)
	require.NoError(t, err)
	require.NotSame(t, results[0], reloaded, "evicted tile must be loaded again")
	require.Equal(t, results[0], reloaded)
}
