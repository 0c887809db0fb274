package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	mirrorsync "github.com/mirrorsync/mirrorsync"
	"github.com/mirrorsync/mirrorsync/boss"
	"github.com/mirrorsync/mirrorsync/doer"
	"github.com/mirrorsync/mirrorsync/engine"
	"github.com/mirrorsync/mirrorsync/internal/logging"
	"github.com/mirrorsync/mirrorsync/launcher"
	"github.com/mirrorsync/mirrorsync/specfile"
)

// sync runs every entry in a spec-file in document order, aborting on
// the first fatal error (a later entry is never attempted once an
// earlier one fails fatally, since spec-files are meant to run in
// dependency order top to bottom — e.g. populate a shared directory
// before a later entry reads from it).
func (c maincmd) sync(ctx context.Context, fs *flag.FlagSet, args []string) error {
	specPath := fs.String("spec", "", "path to a spec-file (YAML)")
	level := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	yes := fs.Bool("yes", false, "answer every prompt with \"proceed\" instead of asking interactively")
	autoDeploy := fs.Bool("auto-deploy", false, "deploy an embedded doer binary to remote hosts on a version mismatch")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *specPath == "" {
		return errors.New("-spec is required")
	}

	log, err := logging.New(*level, 0)
	if err != nil {
		return errors.Wrap(err, "building logger")
	}
	defer log.Sync()

	spec, err := specfile.Load(*specPath)
	if err != nil {
		return err
	}

	var deployer launcher.Deployer
	if *autoDeploy {
		exe, err := os.Executable()
		if err != nil {
			return errors.Wrap(err, "locating executable for auto-deploy")
		}
		embedded, err := launcher.NewEmbeddedBinaries(exe, 8)
		if err != nil {
			return err
		}
		deployer = &launcher.BinaryDeployer{Embedded: embedded, Log: log}
	}

	for i, entry := range spec.Syncs {
		entryLog := log.With(zap.Int("entry", i))
		if err := runEntry(ctx, entry, entryLog, *yes, deployer); err != nil {
			entryLog.Error("sync entry failed", zap.Error(err))
			return err
		}
	}
	return nil
}

func runEntry(ctx context.Context, entry specfile.SyncEntry, log *zap.Logger, autoYes bool, deployer launcher.Deployer) error {
	filter, err := entry.CompiledFilter()
	if err != nil {
		return err
	}
	flags, err := entry.BehaviourFlags()
	if err != nil {
		return err
	}

	src, closeSrc, err := connectEndpoint(ctx, entry.Source, deployer, log)
	if err != nil {
		return errors.Wrap(err, "connecting to source")
	}
	dest, closeDest, err := connectEndpoint(ctx, entry.Dest, deployer, log)
	if err != nil {
		closeSrc()
		return errors.Wrap(err, "connecting to destination")
	}

	// spec.md §5: a ctrl-C on the boss tears down the transport rather
	// than cancelling any one command mid-flight. teardown runs exactly
	// once, whether it's ctx cancellation racing RunSync's blocked
	// Send/Recv or the normal deferred exit path, so each of
	// connectEndpoint's close funcs is called a single time.
	var closeOnce sync.Once
	teardown := func() {
		closeOnce.Do(func() {
			closeSrc()
			closeDest()
		})
	}
	defer teardown()
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			teardown()
		case <-stopWatch:
		}
	}()

	b := &boss.Boss{
		Src:   src,
		Dest:  dest,
		Flags: flags,
		Ask:   promptFunc(autoYes),
		Log:   log,
	}

	result, err := b.RunSync(ctx, boss.SyncRequest{
		SourcePath:          entry.Source.Path,
		SourceTrailingSlash: entry.Source.TrailingSlash(),
		DestPath:            entry.Dest.Path,
		DestTrailingSlash:   entry.Dest.TrailingSlash(),
		Filter:              filter,
		DryRun:              entry.DryRun,
	})
	if err != nil {
		return err
	}
	log.Info("sync complete",
		zap.Int("filesCopied", result.FilesCopied),
		zap.Int("symlinksCopied", result.SymlinksCopied),
		zap.Int("filesDeleted", result.FilesDeleted),
		zap.Int("foldersCreated", result.FoldersCreated),
		zap.Int("foldersDeleted", result.FoldersDeleted),
		zap.Int("symlinksDeleted", result.SymlinksDeleted),
		zap.Uint64("bytesCopied", result.BytesCopied),
		zap.Int("errors", len(result.Errors)))
	if len(result.Errors) > 0 {
		return errors.Errorf("sync finished with %d per-action error(s), first: %v", len(result.Errors), result.Errors[0])
	}
	return nil
}

// connectEndpoint returns an engine.Endpoint for ep: an in-process
// doer.Doer wrapped by boss.NewLocalEndpoint for a local path, or a
// launcher.Launch-negotiated remote session for a host. The returned
// close func is always safe to call and always non-nil.
func connectEndpoint(ctx context.Context, ep specfile.Endpoint, deployer launcher.Deployer, log *zap.Logger) (engine.Endpoint, func() error, error) {
	if !ep.IsRemote() {
		d := doer.New(log)
		return boss.NewLocalEndpoint(d), func() error { return nil }, nil
	}
	remote, err := launcher.Launch(ctx, launcher.RemoteTarget{User: ep.User, Host: ep.Host}, deployer, log)
	if err != nil {
		return nil, func() error { return nil }, err
	}
	return remote.Session(), remote.Close, nil
}

// promptFunc builds the mirrorsync.PromptFunc the boss calls whenever a
// behaviour flag resolves to PolicyPrompt: with autoYes it answers every
// prompt with AnswerProceedAll (the -yes flag's whole point), otherwise
// it asks on stderr and reads a one-character answer from stdin.
func promptFunc(autoYes bool) mirrorsync.PromptFunc {
	if autoYes {
		return func(mirrorsync.PromptKind, mirrorsync.Path) mirrorsync.PromptAnswer {
			return mirrorsync.AnswerProceedAll
		}
	}
	reader := bufio.NewReader(os.Stdin)
	return func(kind mirrorsync.PromptKind, p mirrorsync.Path) mirrorsync.PromptAnswer {
		fmt.Fprintf(os.Stderr, "%s at %q — proceed/skip/error/proceed-all/skip-all/error-all? [p/s/e/P/S/E] ", promptKindText(kind), p.String())
		line, _ := reader.ReadString('\n')
		switch strings.TrimSpace(line) {
		case "p", "":
			return mirrorsync.AnswerProceed
		case "s":
			return mirrorsync.AnswerSkip
		case "e":
			return mirrorsync.AnswerError
		case "P":
			return mirrorsync.AnswerProceedAll
		case "S":
			return mirrorsync.AnswerSkipAll
		case "E":
			return mirrorsync.AnswerErrorAll
		default:
			return mirrorsync.AnswerSkip
		}
	}
}

func promptKindText(kind mirrorsync.PromptKind) string {
	switch kind {
	case mirrorsync.PromptOverwriteNewerDest:
		return "destination file is newer than source"
	case mirrorsync.PromptReplaceFileWithFolder:
		return "replacing a destination file with a folder"
	case mirrorsync.PromptReplaceFolderWithFile:
		return "replacing a destination folder with a file"
	case mirrorsync.PromptCreateDestRootAncestors:
		return "creating destination's missing ancestor directories"
	default:
		return "confirm action"
	}
}
