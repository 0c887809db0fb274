package main

import (
	"context"
	"flag"

	"github.com/pkg/errors"

	"github.com/mirrorsync/mirrorsync/internal/logging"
	"github.com/mirrorsync/mirrorsync/launcher"
)

// doer is what a boss's ssh spawn runs on the remote end: it speaks the
// handshake protocol on stdin/stdout and then dispatches commands over
// the TCP connection the handshake negotiates. Its own stdout MUST carry
// nothing but handshake lines, so logging here always goes to stderr.
func (c maincmd) doer(ctx context.Context, fs *flag.FlagSet, args []string) error {
	idleTimeout := fs.Duration("idle-timeout", launcher.DefaultIdleTimeout, "exit if no boss connects or sends a command within this long")
	level := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	log, err := logging.New(*level, 0)
	if err != nil {
		return errors.Wrap(err, "building logger")
	}
	defer log.Sync()

	return launcher.ServeDoer(ctx, log, *idleTimeout)
}
