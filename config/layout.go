package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/pyramid"
)

// Layout describes pyramids to create.
//
//	pyramids:
//	  - crs: EPSG:3857
//	    levels:
//	      envelope: [0, 0, 10240, 10240]
//	      tile_size: {width: 256, height: 256}
//	      finest_scale: 10
//	      count: 4
//	  - crs: LOCAL:grid+z
//	    mosaics:
//	      - upper_left: [0, 512, 1]
//	        grid_size: {width: 2, height: 2}
//	        tile_size: {width: 256, height: 256}
//	        scale: 1
type Layout struct {
	Pyramids []PyramidLayout `yaml:"pyramids"`
}

type PyramidLayout struct {
	CRS     string               `yaml:"crs"`
	Levels  *LevelsLayout        `yaml:"levels,omitempty"`
	Mosaics []pyramid.MosaicSpec `yaml:"mosaics,omitempty"`
}

// LevelsLayout describes a power-of-two pyramid. Envelope lists every minimum
// ordinate followed by every maximum ordinate.
type LevelsLayout struct {
	Envelope    []float64    `yaml:"envelope"`
	TileSize    pyramid.Size `yaml:"tile_size"`
	FinestScale float64      `yaml:"finest_scale"`
	Count       int          `yaml:"count"`
}

func LoadLayout(filePath string) (*Layout, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return ParseLayout(data)
}

func ParseLayout(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.UnmarshalStrict(data, &l); err != nil {
		return nil, err
	}
	for i, p := range l.Pyramids {
		if _, err := crs.Parse(p.CRS); err != nil {
			return nil, fmt.Errorf("pyramid %d: %w", i, err)
		}
		if (p.Levels == nil) == (len(p.Mosaics) == 0) {
			return nil, fmt.Errorf("libpyramid: pyramid %d needs either levels or mosaics", i)
		}
	}
	return &l, nil
}

func (l LevelsLayout) envelope(c crs.CRS) (geom.Envelope, error) {
	dim := c.Dimension()
	if len(l.Envelope) != 2*dim {
		return geom.Envelope{}, fmt.Errorf("libpyramid: %s envelope needs %d ordinates, got %d", c.Name(), 2*dim, len(l.Envelope))
	}
	env := geom.Envelope{
		CRS: c,
		Min: append([]float64(nil), l.Envelope[:dim]...),
		Max: append([]float64(nil), l.Envelope[dim:]...),
	}
	if env.IsEmpty() {
		return geom.Envelope{}, fmt.Errorf("libpyramid: empty envelope %v", env)
	}
	return env, nil
}

// Apply creates the pyramids of l in s and returns them.
func (l *Layout) Apply(ctx context.Context, s pyramid.Store) ([]*pyramid.Pyramid, error) {
	var out []*pyramid.Pyramid
	for _, pl := range l.Pyramids {
		c, err := crs.Parse(pl.CRS)
		if err != nil {
			return nil, err
		}
		if pl.Levels != nil {
			env, err := pl.Levels.envelope(c)
			if err != nil {
				return nil, err
			}
			p, err := pyramid.CreateLevels(ctx, s, env, pl.Levels.TileSize, pl.Levels.FinestScale, pl.Levels.Count)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
			continue
		}
		p, err := s.CreatePyramid(ctx, c)
		if err != nil {
			return nil, err
		}
		for _, spec := range pl.Mosaics {
			m, err := s.CreateMosaic(ctx, p.ID, spec)
			if err != nil {
				return nil, err
			}
			p.Mosaics = append(p.Mosaics, m)
		}
		out = append(out, p)
	}
	return out, nil
}
