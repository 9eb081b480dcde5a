package finder_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/finder"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/pyramid"
)

func mosaic(id string, scale float64, upperLeft ...float64) *pyramid.Mosaic {
	return &pyramid.Mosaic{
		ID:        id,
		UpperLeft: upperLeft,
		GridSize:  pyramid.Size{Width: 2, Height: 2},
		TileSize:  pyramid.Size{Width: 10, Height: 10},
		Scale:     scale,
	}
}

func ids(mosaics []*pyramid.Mosaic) []string {
	var out []string
	for _, m := range mosaics {
		out = append(out, m.ID)
	}
	return out
}

func TestFindPyramid(t *testing.T) {
	t.Parallel()
	timeCRS := crs.Compound{Base: crs.Mercator, Axes: []crs.Axis{{Name: "time"}}}
	set := &pyramid.PyramidSet{Pyramids: []*pyramid.Pyramid{
		{ID: "geo", CRS: crs.WGS84},
		{ID: "merc-time", CRS: timeCRS},
		{ID: "merc", CRS: crs.Mercator},
	}}

	tests := []struct {
		target crs.CRS
		want   string
	}{
		{crs.Mercator, "merc"},
		{timeCRS, "merc-time"},
		{crs.Compound{Base: crs.WGS84, Axes: []crs.Axis{{Name: "z"}}}, "geo"},
		{crs.Cartesian{Code: "LOCAL:x"}, "geo"},
		{nil, "geo"},
	}
	for _, tt := range tests {
		p, err := finder.Default.FindPyramid(set, tt.target)
		require.NoError(t, err)
		if got, want := p.ID, tt.want; got != want {
			t.Errorf("FindPyramid(%v) = %s, want = %s", tt.target, got, want)
		}
	}

	_, err := finder.Default.FindPyramid(&pyramid.PyramidSet{}, crs.WGS84)
	require.ErrorIs(t, err, pyramid.ErrNotFound)
}

func TestFindMosaics(t *testing.T) {
	t.Parallel()
	p := &pyramid.Pyramid{CRS: crs.WGS84, Mosaics: []*pyramid.Mosaic{
		mosaic("s1", 1, 0, 20),
		mosaic("s2", 2, 0, 40),
		mosaic("s4", 4, 0, 80),
		mosaic("s4-east", 4, 100, 80),
	}}
	everywhere := geom.Envelope{}

	tests := []struct {
		name       string
		resolution []float64
		tolerance  float64
		env        geom.Envelope
		want       []string
	}{
		{"coarsest", nil, 0, everywhere, []string{"s4", "s4-east"}},
		{"exact", []float64{2, 2}, 0, everywhere, []string{"s2"}},
		{"between", []float64{3, 3}, 0, everywhere, []string{"s4", "s4-east"}},
		{"just above", []float64{2.1, 2.1}, 0, everywhere, []string{"s4", "s4-east"}},
		{"tolerance", []float64{2.1, 2.1}, 0.1, everywhere, []string{"s2"}},
		{"finer axis", []float64{5, 1}, 0, everywhere, []string{"s1"}},
		{"too fine", []float64{0.1, 0.1}, 0, everywhere, []string{"s1"}},
		{"too coarse", []float64{10, 10}, 0, everywhere, []string{"s4", "s4-east"}},
		{"envelope", nil, 0, geom.NewEnvelope2D(crs.WGS84, 110, 10, 120, 20), []string{"s4-east"}},
		{"disjoint", nil, 0, geom.NewEnvelope2D(crs.WGS84, -50, 10, -40, 20), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := finder.Default.FindMosaics(p, tt.resolution, tt.tolerance, tt.env)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("FindMosaics mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFindMosaicsSlices(t *testing.T) {
	t.Parallel()
	p := &pyramid.Pyramid{Mosaics: []*pyramid.Mosaic{
		mosaic("z1", 1, 0, 20, 1),
		mosaic("z2", 1, 0, 20, 2),
		mosaic("z3", 1, 0, 20, 3),
	}}
	env := geom.Envelope{Min: []float64{0, 0, 1.5}, Max: []float64{20, 20, 3}}

	got, err := finder.Default.FindMosaics(p, []float64{1, 1}, 0, env)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"z2", "z3"}, ids(got)); diff != "" {
		t.Errorf("FindMosaics mismatch (-want +got):\n%s", diff)
	}
}
