package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/google/subcommands"

	"github.com/eak1mov/go-libpyramid/config"
)

type createCmd struct {
	storeFlags
	layoutPath string
}

func (c *createCmd) Name() string { return "create" }
func (c *createCmd) Synopsis() string {
	return "create pyramids and mosaics from a YAML layout"
}
func (c *createCmd) Usage() string {
	return "pyramidtool create -l <layout.yaml> (-config <path> | -path <path> [-store <kind>])\n"
}
func (c *createCmd) SetFlags(f *flag.FlagSet) {
	c.storeFlags.register(f)
	f.StringVar(&c.layoutPath, "l", "", "YAML layout file path")
}

func (c *createCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	layout, err := config.LoadLayout(c.layoutPath)
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

	pyramids, err := layout.Apply(ctx, e.store)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	for _, p := range pyramids {
		fmt.Printf("pyramid %s (%s): %d mosaics\n", p.ID, p.CRS.Name(), len(p.Mosaics))
	}
	return subcommands.ExitSuccess
}
