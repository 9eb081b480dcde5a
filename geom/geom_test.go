package geom_test

import (
	"errors"
	"image"
	"testing"

	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestEnvelopeIntersects(t *testing.T) {
	a := geom.NewEnvelope2D(crs.WGS84, 0, 0, 10, 10)
	for _, tc := range []struct {
		other geom.Envelope
		want  bool
	}{
		{geom.NewEnvelope2D(crs.WGS84, 5, 5, 15, 15), true},
		{geom.NewEnvelope2D(crs.WGS84, 10, 0, 20, 10), false},
		{geom.NewEnvelope2D(crs.WGS84, -5, -5, 0.5, 0.5), true},
		{geom.NewEnvelope2D(crs.WGS84, 11, 11, 12, 12), false},
	} {
		if got := a.Intersects(tc.other); got != tc.want {
			t.Errorf("%v.Intersects(%v) = %v, want = %v", a, tc.other, got, tc.want)
		}
	}

	cube := geom.Envelope{Min: []float64{0, 0, 2}, Max: []float64{10, 10, 2}}
	slice := geom.Envelope{Min: []float64{1, 1, 2}, Max: []float64{2, 2, 2}}
	require.True(t, cube.Intersects(slice))
	slice.Min[2], slice.Max[2] = 3, 3
	require.False(t, cube.Intersects(slice))
}

func TestTransformEnvelope(t *testing.T) {
	env := geom.NewEnvelope2D(crs.WGS84, -180, -85, 180, 85)
	got, err := geom.TransformEnvelope(crs.Default, env, crs.Mercator)
	require.NoError(t, err)
	require.InDelta(t, -20037508.342789244, got.Min[0], 1e-6)
	require.InDelta(t, 20037508.342789244, got.Max[0], 1e-6)
	require.True(t, got.Max[1] > 19e6)

	back, err := geom.TransformEnvelope(crs.Default, got, crs.WGS84)
	require.NoError(t, err)
	if !cmp.Equal(back.Min, env.Min, cmpopts.EquateApprox(0, 1e-6)) {
		t.Errorf("round trip = %v, want = %v", back, env)
	}
}

func TestAffineInverse(t *testing.T) {
	a := geom.NewAffine2D(10, 0, 0, -10, 2560, 1000)
	inv, err := a.Invert()
	require.NoError(t, err)
	require.True(t, a.Then(inv).IsIdentity(1e-12))

	p := []float64{3, 7}
	require.NoError(t, a.Apply(p, p))
	require.Equal(t, []float64{2590, 930}, p)

	singular := geom.NewAffine2D(1, 0, 0, 0, 0, 0)
	_, err = singular.Invert()
	require.True(t, errors.Is(err, crs.ErrNotInvertible))
}

func TestAffineHorizontal(t *testing.T) {
	a := geom.NewAffine2D(2, 0, 0, -2, 100, 200).Extend([]float64{5})
	require.Equal(t, 3, a.Dim())
	require.Equal(t, 0.0, a.Scale(2))
	require.Equal(t, 5.0, a.Translation(2))

	h, ok := a.Horizontal()
	require.True(t, ok)
	require.True(t, h.EqualApprox(geom.NewAffine2D(2, 0, 0, -2, 100, 200), 0))

	a.Set(0, 2, 1)
	_, ok = a.Horizontal()
	require.False(t, ok)
}

func TestGridGeometryEnvelope(t *testing.T) {
	g := geom.NewGridGeometry2D(crs.Mercator, image.Rect(0, 0, 256, 128), geom.NewAffine2D(10, 0, 0, -10, 0, 1000))
	env := g.Envelope()
	if got, want := env.Min, []float64{0, -280}; !cmp.Equal(got, want, approx) {
		t.Errorf("Envelope().Min = %v, want = %v", got, want)
	}
	if got, want := env.Max, []float64{2560, 1000}; !cmp.Equal(got, want, approx) {
		t.Errorf("Envelope().Max = %v, want = %v", got, want)
	}
	if got, want := g.Resolution(), []float64{10, 10}; !cmp.Equal(got, want, approx) {
		t.Errorf("Resolution() = %v, want = %v", got, want)
	}

	center := g.GridToCRSAt(geom.CellCenter)
	p := []float64{0, 0}
	require.NoError(t, center.Apply(p, p))
	require.Equal(t, []float64{5, 995}, p)
}

func TestConvertResolution(t *testing.T) {
	env := geom.NewEnvelope2D(crs.WGS84, -10, -10, 10, 10)
	got, err := geom.ConvertResolution(crs.Default, env, []float64{0.1, 0.1}, crs.Mercator)
	require.NoError(t, err)
	require.InDelta(t, 0.1*111319.49079327357, got[0], 1e-3)
	require.True(t, got[1] > got[0])

	same, err := geom.ConvertResolution(crs.Default, env, []float64{0.1, 0.2}, crs.WGS84)
	require.NoError(t, err)
	require.Equal(t, []float64{0.1, 0.2}, same)

	// 3-D systems go through the Jacobian.
	source, _ := crs.Parse("EPSG:4326+time")
	target, _ := crs.Parse("EPSG:3857+time")
	cube := geom.Envelope{CRS: source, Min: []float64{-1, -1, 0}, Max: []float64{1, 1, 10}}
	got, err = geom.ConvertResolution(crs.Default, cube, []float64{0.1, 0.1, 1}, target)
	require.NoError(t, err)
	require.InDelta(t, 0.1*111319.49079327357, got[0], 1e-3)
	require.Equal(t, 1.0, got[2])

	_, err = geom.ConvertResolution(crs.Default, cube, []float64{0.1}, target)
	var mismatch *geom.DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
}

func TestReadRequest(t *testing.T) {
	native := geom.NewGridGeometry2D(crs.Mercator, image.Rect(0, 0, 100, 100), geom.NewAffine2D(10, 0, 0, -10, 0, 1000))
	req := geom.ReadRequest{Service: crs.Default, Native: native}

	env, err := req.IntersectedEnvelope(geom.NewEnvelope2D(crs.Mercator, 95, 505, 2000, 2000))
	require.NoError(t, err)
	if got, want := env.Max, []float64{1000, 1000}; !cmp.Equal(got, want, approx) {
		t.Errorf("IntersectedEnvelope().Max = %v, want = %v", got, want)
	}

	window, err := req.SourcePixelWindow(env)
	require.NoError(t, err)
	require.Equal(t, image.Rect(9, 0, 100, 50), window)

	size := req.DestinationImageSize(window, []float64{20, 20})
	require.Equal(t, image.Pt(46, 25), size)
	require.Equal(t, window.Size(), req.DestinationImageSize(window, nil))

	dest, err := req.DestinationGridGeometry(window, size, env)
	require.NoError(t, err)
	p := []float64{0, 0}
	require.NoError(t, dest.GridToCRS.Apply(p, p))
	require.Equal(t, []float64{90, 1000}, p)
	require.InDelta(t, 10*91.0/46, dest.Resolution()[0], 1e-9)

	_, err = req.IntersectedEnvelope(geom.NewEnvelope2D(crs.Mercator, 2000, 2000, 3000, 3000))
	require.True(t, errors.Is(err, geom.ErrDisjointDomain))
}

func TestReadRequestSlice(t *testing.T) {
	c, _ := crs.Parse("EPSG:3857+time")
	native := geom.GridGeometry{
		Extent:    geom.NewGridExtent(image.Rect(0, 0, 10, 10), 3),
		GridToCRS: geom.NewAffine2D(1, 0, 0, -1, 0, 10).Extend([]float64{7}),
		CRS:       c,
	}
	req := geom.ReadRequest{Service: crs.Default, Native: native}

	env, err := req.IntersectedEnvelope(geom.NewEnvelope2D(crs.Mercator, 2, 2, 4, 4))
	require.NoError(t, err)
	require.Equal(t, 3, env.Dimension())
	require.Equal(t, 7.0, env.Min[2])

	window, err := req.SourcePixelWindow(env)
	require.NoError(t, err)
	require.Equal(t, image.Rect(2, 6, 4, 8), window)

	dest, err := req.DestinationGridGeometry(window, window.Size(), env)
	require.NoError(t, err)
	require.Equal(t, 0.0, dest.GridToCRS.Scale(2))
	require.Equal(t, 7.0, dest.GridToCRS.Translation(2))

	_, err = req.IntersectedEnvelope(geom.Envelope{CRS: c, Min: []float64{0, 0, 0, 0}, Max: []float64{1, 1, 1, 1}})
	var mismatch *geom.DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
}
