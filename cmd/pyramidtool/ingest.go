package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"

	"github.com/eak1mov/go-libpyramid/coverage"
	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/geom"
	"github.com/eak1mov/go-libpyramid/raster"
	"github.com/eak1mov/go-libpyramid/writer"
)

type ingestCmd struct {
	storeFlags
	inputPath string
	crsName   string
	origin    string
	res       float64
	envelope  string
	noData    string
}

func (c *ingestCmd) Name() string { return "ingest" }
func (c *ingestCmd) Synopsis() string {
	return "resample a georeferenced raster into every pyramid level"
}
func (c *ingestCmd) Usage() string {
	return "pyramidtool ingest -i <path> -crs <name> -origin <x,y> -res <r> [-envelope <minx,miny,maxx,maxy>] (-config <path> | -path <path>)\n"
}
func (c *ingestCmd) SetFlags(f *flag.FlagSet) {
	c.storeFlags.register(f)
	f.StringVar(&c.inputPath, "i", "", "Input raster path (PNG or encoded raster)")
	f.StringVar(&c.crsName, "crs", "EPSG:3857", "CRS of the input raster")
	f.StringVar(&c.origin, "origin", "", "CRS position of the upper-left corner (x,y)")
	f.Float64Var(&c.res, "res", 1, "CRS units per pixel")
	f.StringVar(&c.envelope, "envelope", "", "Restrict the write to this envelope")
	f.StringVar(&c.noData, "nodata", "", "Per-band no-data values")
}

func (c *ingestCmd) coverage() (*coverage.GridCoverage, error) {
	system, err := crs.Parse(c.crsName)
	if err != nil {
		return nil, err
	}
	if system.Dimension() != 2 {
		return nil, fmt.Errorf("ingest needs a 2-D CRS, got %s", system.Name())
	}
	origin, err := parseFloats(c.origin, 2)
	if err != nil {
		return nil, err
	}
	if origin == nil {
		return nil, fmt.Errorf("missing -origin")
	}
	img, err := readRaster(c.inputPath)
	if err != nil {
		return nil, err
	}
	noData, err := parseFloats(c.noData, 0)
	if err != nil {
		return nil, err
	}
	bands := make([]raster.SampleDimension, img.Bands())
	for b := range bands {
		bands[b].Name = fmt.Sprintf("band%d", b)
		if len(noData) > 0 {
			bands[b].NoData = raster.NoData(noData[min(b, len(noData)-1)])
		}
	}
	return &coverage.GridCoverage{
		Geometry: geom.NewGridGeometry2D(system, img.Rect, geom.NewAffine2D(c.res, 0, 0, -c.res, origin[0], origin[1])),
		Bands:    bands,
		Raster:   img,
	}, nil
}

func (c *ingestCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cov, err := c.coverage()
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	params := writer.Params{}
	if c.envelope != "" {
		bounds, err := parseFloats(c.envelope, 4)
		if err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
		params.Envelope = geom.NewEnvelope2D(cov.Geometry.CRS, bounds[0], bounds[1], bounds[2], bounds[3])
	}

	e, err := c.open()
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer e.Close()
	params.Interpolation = e.cfg.Interpolation()

	bar := progressbar.NewOptions(-1, progressbar.OptionShowIts(), progressbar.OptionShowCount())
	w := writer.New(e.store,
		writer.WithWorkers(e.cfg.Write.Workers),
		writer.WithFill(e.cfg.Write.Fill),
		writer.WithLogger(e.logger),
		writer.WithProgress(func(done, total int) {
			bar.ChangeMax(total)
			bar.Add(1)
		}),
	)
	if err := w.Write(ctx, cov, params); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	bar.Finish()
	fmt.Println()

	return subcommands.ExitSuccess
}
