// Command mirrorsync is the CLI entrypoint: a thin subcmd dispatcher
// (full flag parsing/help rendering is explicitly out of scope per
// spec.md §1) wiring the sync, doer, and list-embedded-binaries
// subcommands to the boss/doer/launcher/specfile packages.
//
// Grounded on cmd/bs/main.go's maincmd{}/subcmd.Run dispatch shape.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/bobg/subcmd"
)

type maincmd struct{}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := subcmd.Run(ctx, maincmd{}, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"sync":                   {F: c.sync},
		"doer":                   {F: c.doer},
		"list-embedded-binaries": {F: c.listEmbeddedBinaries},
	}
}
