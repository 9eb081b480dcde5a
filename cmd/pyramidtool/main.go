package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&createCmd{}, "")
	subcommands.Register(&ingestCmd{}, "")
	subcommands.Register(&readCmd{}, "")
	subcommands.Register(&infoCmd{}, "")
	subcommands.Register(&packCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
