package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"

	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/pyramid"
	"github.com/eak1mov/go-libpyramid/tile"
)

type infoCmd struct {
	storeFlags
}

func (c *infoCmd) Name() string { return "info" }
func (c *infoCmd) Synopsis() string {
	return "list pyramids, mosaics and stored tiles"
}
func (c *infoCmd) Usage() string {
	return "pyramidtool info (-config <path> | -path <path> [-store <kind>])\n"
}
func (c *infoCmd) SetFlags(f *flag.FlagSet) {
	c.storeFlags.register(f)
}

type mosaicStats struct {
	tiles int
	bytes uint64
}

func collectStats(v tile.Visitor) (map[[2]string]mosaicStats, error) {
	stats := make(map[[2]string]mosaicStats)
	err := v.VisitTiles(func(tileID tile.ID, tileData []byte) error {
		key := [2]string{tileID.Pyramid, tileID.Mosaic}
		s := stats[key]
		s.tiles++
		s.bytes += uint64(len(tileData))
		stats[key] = s
		return nil
	})
	return stats, err
}

func (c *infoCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	e, err := c.open()
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	set, err := e.store.PyramidSet(ctx)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	var stats map[[2]string]mosaicStats
	if bs, ok := e.store.(*pyramid.BackendStore); ok {
		if stats, err = collectStats(bs.Backend()); err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PYRAMID\tCRS\tMOSAIC\tSCALE\tGRID\tTILE\tTILES\tSIZE")
	var totalTiles int
	var totalBytes uint64
	for _, p := range set.Pyramids {
		for _, m := range p.Mosaics {
			s := stats[[2]string{p.ID, m.ID}]
			totalTiles += s.tiles
			totalBytes += s.bytes
			fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%v\t%v\t%s\t%s\n",
				p.ID, p.CRS.Name(), m.ID, m.Scale, m.GridSize, m.TileSize,
				humanize.Comma(int64(s.tiles)), humanize.Bytes(s.bytes))
		}
	}
	w.Flush()

	if env, err := set.Envelope(crs.Default); err == nil {
		fmt.Printf("envelope: %v\n", env)
	}
	fmt.Printf("%d pyramids, %s tiles, %s\n", len(set.Pyramids), humanize.Comma(int64(totalTiles)), humanize.Bytes(totalBytes))
	return subcommands.ExitSuccess
}
