package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"

	"github.com/eak1mov/go-libpyramid/index"
	"github.com/eak1mov/go-libpyramid/pack"
	"github.com/eak1mov/go-libpyramid/pack/spec"
)

var directoryCompressions = map[string]spec.Compression{
	"none": spec.CompressionNone,
	"gzip": spec.CompressionGzip,
	"zstd": spec.CompressionZstd,
}

type packCmd struct {
	storeFlags
	outputPath  string
	indexPath   string
	compression string
}

func (c *packCmd) Name() string { return "pack" }
func (c *packCmd) Synopsis() string {
	return "export a tile store into a single-file pack archive"
}
func (c *packCmd) Usage() string {
	return "pyramidtool pack -o <path.pack> [-c <compression>] [-index <path>] (-config <path> | -path <path> [-store <kind>])\n"
}
func (c *packCmd) SetFlags(f *flag.FlagSet) {
	c.storeFlags.register(f)
	f.StringVar(&c.outputPath, "o", "", "Output archive path")
	f.StringVar(&c.indexPath, "index", "", "Also write a binary location index of the archive")
	f.StringVar(&c.compression, "c", "none", "Directory compression (none, gzip, zstd)")
}

func (c *packCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	compression, ok := directoryCompressions[c.compression]
	if !ok {
		log.Printf("unknown directory compression %q", c.compression)
		return subcommands.ExitFailure
	}
	cfg, err := c.load()
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	logger, closer, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer closer.Close()
	backend, err := cfg.OpenBackend(logger)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer backend.Close()

	bar := progressbar.NewOptions(-1, progressbar.OptionShowIts(), progressbar.OptionShowCount())
	n, err := pack.Export(ctx, backend, c.outputPath, func(int) { bar.Add(1) },
		pack.WithCompression(compression), pack.WithLogger(logger))
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	bar.Finish()
	fmt.Printf("\n%s tiles written to %s\n", humanize.Comma(int64(n)), c.outputPath)

	if c.indexPath != "" {
		if err := writeIndex(c.outputPath, c.indexPath); err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
	}
	return subcommands.ExitSuccess
}

func writeIndex(archivePath, indexPath string) (err error) {
	reader, err := pack.Open(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	items, err := index.Build(reader)
	if err != nil {
		return err
	}
	f, err := os.Create(indexPath)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return index.WriteAll(items, f)
}
