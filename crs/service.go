package crs

import (
	"errors"
	"fmt"
)

var ErrNoOperation = errors.New("libpyramid: no coordinate operation")

// Service finds coordinate operations between reference systems.
// Implementations backed by a full projection library can replace Default.
type Service interface {
	FindOperation(source, target CRS) (Transform, error)
}

type builtinService struct{}

// Default knows the identity between equal systems, EPSG:4326 <-> EPSG:3857
// and pass-through of matching extra axes.
var Default Service = builtinService{}

// FindOperation is a shortcut for Default.FindOperation.
func FindOperation(source, target CRS) (Transform, error) {
	return Default.FindOperation(source, target)
}

func (builtinService) FindOperation(source, target CRS) (Transform, error) {
	if source == nil || target == nil {
		return nil, fmt.Errorf("%w: undefined system", ErrNoOperation)
	}
	if Equal(source, target) {
		return Identity(source.Dimension()), nil
	}
	if source.Dimension() != target.Dimension() {
		return nil, fmt.Errorf("%w: %s (%d-D) -> %s (%d-D)", ErrNoOperation,
			source.Name(), source.Dimension(), target.Name(), target.Dimension())
	}

	sourceAxes, targetAxes := ExtraAxes(source), ExtraAxes(target)
	for i := range sourceAxes {
		if sourceAxes[i].Name != targetAxes[i].Name {
			return nil, fmt.Errorf("%w: axis %q -> %q", ErrNoOperation, sourceAxes[i].Name, targetAxes[i].Name)
		}
	}

	horizontal, err := findHorizontal(source.Horizontal(), target.Horizontal())
	if err != nil {
		return nil, err
	}
	return PassThrough(horizontal, len(sourceAxes)), nil
}

func findHorizontal(source, target CRS) (Transform, error) {
	switch {
	case Equal(source, target):
		return Identity(2), nil
	case Equal(source, WGS84) && Equal(target, Mercator):
		return mercatorForward{}, nil
	case Equal(source, Mercator) && Equal(target, WGS84):
		return mercatorInverse{}, nil
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrNoOperation, source.Name(), target.Name())
}
