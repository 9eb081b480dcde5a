package raster_test

import (
	"bytes"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/raster"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func gradient(r image.Rectangle, model raster.SampleModel) *raster.Raster {
	ras := raster.New(r, model)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			for b := range model.Bands {
				ras.Set(x, y, b, float64(x*7+y*3+b))
			}
		}
	}
	return ras
}

func TestCodecRoundTrip(t *testing.T) {
	for _, dt := range []raster.DataType{raster.Uint8, raster.Int16, raster.Uint16, raster.Int32, raster.Float32, raster.Float64} {
		for _, c := range []raster.Compression{raster.CompressionNone, raster.CompressionSnappy, raster.CompressionZstd} {
			t.Run(dt.String()+"/"+c.String(), func(t *testing.T) {
				t.Parallel()

				want := gradient(image.Rect(3, -2, 20, 9), raster.SampleModel{DataType: dt, Bands: 2})
				codec := raster.Codec{Compression: c}
				data, err := codec.Encode(want)
				require.NoError(t, err)

				got, err := codec.Decode(data)
				require.NoError(t, err)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("Decode(Encode(r)) mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestCodecErrors(t *testing.T) {
	codec := raster.Codec{Compression: raster.CompressionSnappy}

	_, err := codec.Decode([]byte("foobar"))
	require.Truef(t, errors.Is(err, raster.ErrUnknownCodec), "%v", err)

	data, err := codec.Encode(gradient(image.Rect(0, 0, 4, 4), raster.SampleModel{DataType: raster.Uint8, Bands: 1}))
	require.NoError(t, err)
	_, err = codec.Decode(data[:len(data)-1])
	require.Truef(t, errors.Is(err, raster.ErrCorrupt), "%v", err)

	plain, err := raster.Codec{}.Encode(gradient(image.Rect(0, 0, 4, 4), raster.SampleModel{DataType: raster.Uint8, Bands: 1}))
	require.NoError(t, err)
	plain[len(plain)-1] ^= 0xff
	_, err = codec.Decode(plain)
	require.Truef(t, errors.Is(err, raster.ErrCorrupt), "%v", err)
}

func TestPNG(t *testing.T) {
	want := gradient(image.Rect(0, 0, 8, 5), raster.SampleModel{DataType: raster.Uint8, Bands: 4})
	for i := 3; i < len(want.Pix); i += 4 {
		want.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, raster.EncodePNG(&buf, want))

	got, err := raster.Codec{}.Decode(buf.Bytes())
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PNG round trip mismatch (-want +got):\n%s", diff)
	}

	_, err = raster.New(image.Rect(0, 0, 1, 1), raster.SampleModel{DataType: raster.Float32, Bands: 1}).Image()
	require.Error(t, err)
}

func TestClamp(t *testing.T) {
	for _, tc := range []struct {
		dt   raster.DataType
		v    float64
		want float64
	}{
		{raster.Uint8, 300, 255},
		{raster.Uint8, -4, 0},
		{raster.Uint8, 2.5, 3},
		{raster.Int16, -40000, math.MinInt16},
		{raster.Float64, 1.25, 1.25},
	} {
		if got := tc.dt.Clamp(tc.v); got != tc.want {
			t.Errorf("%v.Clamp(%v) = %v, want = %v", tc.dt, tc.v, got, tc.want)
		}
	}
}

func TestBlitAndEmpty(t *testing.T) {
	model := raster.SampleModel{DataType: raster.Int16, Bands: 2}
	fill := []float64{-1, 7}
	dst := raster.NewFilled(image.Rect(0, 0, 10, 10), model, fill)
	require.True(t, dst.IsEmpty(fill))
	require.False(t, dst.IsEmpty(nil))

	src := gradient(image.Rect(8, 8, 12, 12), model)
	require.NoError(t, dst.Blit(src))
	require.Equal(t, src.At(9, 9, 1), dst.At(9, 9, 1))
	require.Equal(t, -1.0, dst.At(7, 7, 0))
	require.False(t, dst.IsEmpty(fill))

	moved := src.Translate(image.Pt(0, 0))
	require.Equal(t, image.Rect(0, 0, 4, 4), moved.Rect)
	require.Equal(t, src.At(8, 8, 0), moved.At(0, 0, 0))
}

func TestFillValues(t *testing.T) {
	dims := []raster.SampleDimension{{Name: "a", NoData: raster.NoData(-9999)}, {Name: "b"}}
	require.Equal(t, []float64{-9999, 0, 0}, raster.FillValues(dims, 3, nil))
	require.Equal(t, []float64{5, 5, 5}, raster.FillValues(dims, 3, []float64{5}))
}

func TestResampleIdentity(t *testing.T) {
	model := raster.SampleModel{DataType: raster.Uint16, Bands: 3}
	src := gradient(image.Rect(0, 0, 16, 16), model)
	for _, interp := range []raster.Interpolation{raster.Nearest, raster.Bilinear, raster.Bicubic} {
		dst := raster.New(src.Rect, model)
		require.NoError(t, raster.Resample(dst, dst.Rect, src, crs.Identity(2), interp, nil))
		if diff := cmp.Diff(src.Pix, dst.Pix); diff != "" {
			t.Errorf("Resample(%v) identity mismatch (-want +got):\n%s", interp, diff)
		}
	}
}

func TestResampleShiftAndFill(t *testing.T) {
	model := raster.SampleModel{DataType: raster.Float64, Bands: 1}
	src := gradient(image.Rect(0, 0, 4, 4), model)
	dst := raster.New(image.Rect(0, 0, 4, 4), model)

	// destination pixel (x, y) reads source pixel (x+2, y)
	shift := geom.NewAffine2D(1, 0, 0, 1, 2, 0)
	require.NoError(t, raster.Resample(dst, dst.Rect, src, shift, raster.Nearest, []float64{-1}))
	require.Equal(t, src.At(2, 1, 0), dst.At(0, 1, 0))
	require.Equal(t, src.At(3, 3, 0), dst.At(1, 3, 0))
	require.Equal(t, -1.0, dst.At(2, 0, 0))

	// 2x downsampling with bilinear averages the 2x2 block.
	half := raster.New(image.Rect(0, 0, 2, 2), model)
	require.NoError(t, raster.Resample(half, half.Rect, src, geom.NewAffine2D(2, 0, 0, 2, 0, 0), raster.Bilinear, nil))
	want := (src.At(0, 0, 0) + src.At(1, 0, 0) + src.At(0, 1, 0) + src.At(1, 1, 0)) / 4
	if got := half.At(0, 0, 0); !cmp.Equal(got, want, cmpopts.EquateApprox(0, 1e-12)) {
		t.Errorf("bilinear = %v, want = %v", got, want)
	}

	region := image.Rect(0, 0, 1, 1)
	partial := raster.NewFilled(image.Rect(0, 0, 2, 2), model, []float64{42})
	require.NoError(t, raster.Resample(partial, region, src, crs.Identity(2), raster.Nearest, nil))
	require.Equal(t, src.At(0, 0, 0), partial.At(0, 0, 0))
	require.Equal(t, 42.0, partial.At(1, 1, 0))
}

func TestParse(t *testing.T) {
	dt, err := raster.ParseDataType("Float32")
	require.NoError(t, err)
	require.Equal(t, raster.Float32, dt)

	interp, err := raster.ParseInterpolation("bicubic")
	require.NoError(t, err)
	require.Equal(t, raster.Bicubic, interp)

	_, err = raster.ParseCompression("brotli")
	require.Error(t, err)
}
