package crs

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	earthRadius = 6378137.0

	// MaxMercatorLatitude is the latitude at which Web Mercator becomes square.
	MaxMercatorLatitude = 85.05112877980659
)

// mercatorForward maps EPSG:4326 degrees to EPSG:3857 meters.
type mercatorForward struct{}

func (mercatorForward) SourceDim() int { return 2 }
func (mercatorForward) TargetDim() int { return 2 }

func (mercatorForward) Apply(dst, src []float64) error {
	lon, lat := src[0], clampLatitude(src[1])
	dst[0] = earthRadius * lon * math.Pi / 180
	dst[1] = earthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return nil
}

func (mercatorForward) Inverse() (Transform, error) { return mercatorInverse{}, nil }

func (mercatorForward) Derivative(point []float64) (*mat.Dense, error) {
	lat := clampLatitude(point[1]) * math.Pi / 180
	k := earthRadius * math.Pi / 180
	return mat.NewDense(2, 2, []float64{
		k, 0,
		0, k / math.Cos(lat),
	}), nil
}

// mercatorInverse maps EPSG:3857 meters to EPSG:4326 degrees.
type mercatorInverse struct{}

func (mercatorInverse) SourceDim() int { return 2 }
func (mercatorInverse) TargetDim() int { return 2 }

func (mercatorInverse) Apply(dst, src []float64) error {
	x, y := src[0], src[1]
	dst[0] = x / earthRadius * 180 / math.Pi
	dst[1] = (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180 / math.Pi
	return nil
}

func (mercatorInverse) Inverse() (Transform, error) { return mercatorForward{}, nil }

func (mercatorInverse) Derivative(point []float64) (*mat.Dense, error) {
	k := 180 / (math.Pi * earthRadius)
	sech := 1 / math.Cosh(point[1]/earthRadius)
	return mat.NewDense(2, 2, []float64{
		k, 0,
		0, k * sech,
	}), nil
}

func clampLatitude(lat float64) float64 {
	return max(-MaxMercatorLatitude, min(MaxMercatorLatitude, lat))
}
