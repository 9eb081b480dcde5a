package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"

	"github.com/eak1mov/go-libpyramid/coverage"
	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/raster"
	"github.com/eak1mov/go-libpyramid/reader"
)

type readCmd struct {
	storeFlags
	outputPath string
	crsName    string
	envelope   string
	res        string
	deferred   bool
}

func (c *readCmd) Name() string { return "read" }
func (c *readCmd) Synopsis() string {
	return "read a window of the pyramids into a PNG or encoded raster"
}
func (c *readCmd) Usage() string {
	return "pyramidtool read -o <path> [-crs <name>] [-envelope <min...,max...>] [-res <rx,ry>] (-config <path> | -path <path>)\n"
}
func (c *readCmd) SetFlags(f *flag.FlagSet) {
	c.storeFlags.register(f)
	f.StringVar(&c.outputPath, "o", "", "Output file path (.png or encoded raster)")
	f.StringVar(&c.crsName, "crs", "", "CRS of the envelope and resolution (default: pyramid CRS)")
	f.StringVar(&c.envelope, "envelope", "", "Every minimum ordinate followed by every maximum ordinate")
	f.StringVar(&c.res, "res", "", "Requested resolution")
	f.BoolVar(&c.deferred, "deferred", false, "Render through a cached tile view")
}

func (c *readCmd) params() (coverage.ReadParams, error) {
	var params coverage.ReadParams
	var err error
	if c.crsName != "" {
		if params.CRS, err = crs.Parse(c.crsName); err != nil {
			return params, err
		}
	}
	bounds, err := parseFloats(c.envelope, 0)
	if err != nil {
		return params, err
	}
	if len(bounds) > 0 {
		if len(bounds)%2 != 0 || len(bounds) < 4 {
			return params, fmt.Errorf("invalid envelope %q", c.envelope)
		}
		n := len(bounds) / 2
		params.Envelope = geom.Envelope{CRS: params.CRS, Min: bounds[:n], Max: bounds[n:]}
	}
	if params.Resolution, err = parseFloats(c.res, 0); err != nil {
		return params, err
	}
	params.Deferred = c.deferred
	return params, nil
}

func (c *readCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	params, err := c.params()
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	e, err := c.open()
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	r := reader.NewPyramidReader(e.store,
		reader.WithFill(e.cfg.Write.Fill),
		reader.WithWorkers(e.cfg.Write.Workers),
		reader.WithViewCacheSize(e.cfg.Cache.ViewTiles),
		reader.WithLogger(e.logger),
	)
	cov, err := r.Read(ctx, params)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	if cov == nil {
		log.Println("no tiles in the requested window")
		return subcommands.ExitFailure
	}

	compression, _ := raster.ParseCompression(e.cfg.Store.Compression)
	slices := coverage.Flatten(cov)
	for i, s := range slices {
		img, err := s.Render(ctx)
		if err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
		path := c.outputPath
		if len(slices) > 1 {
			ext := filepath.Ext(path)
			path = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(path, ext), i, ext)
		}
		if err := writeRaster(path, img, compression); err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
		fmt.Printf("%s: %v %v\n", path, img.Rect.Size(), s.Envelope())
	}
	return subcommands.ExitSuccess
}
