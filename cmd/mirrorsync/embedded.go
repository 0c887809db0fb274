package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/mirrorsync/mirrorsync/launcher"
)

// listEmbeddedBinaries prints every platform tag this executable carries
// an embedded lite binary for, one per line.
func (c maincmd) listEmbeddedBinaries(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	exe, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "locating executable")
	}
	embedded, err := launcher.NewEmbeddedBinaries(exe, 8)
	if err != nil {
		return err
	}
	platforms, err := embedded.ListPlatforms()
	if err != nil {
		return errors.Wrap(err, "listing embedded platforms")
	}
	for _, p := range platforms {
		fmt.Println(p)
	}
	return nil
}
