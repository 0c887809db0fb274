package boss

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	mirrorsync "github.com/mirrorsync/mirrorsync"
	"github.com/mirrorsync/mirrorsync/engine"
	"github.com/mirrorsync/mirrorsync/wire"
)

// runFolderSync drives the "src is a folder" half of spec.md §4.3: clear
// a destructive root replacement if one was confirmed, make sure the
// destination root folder itself exists, then hand off to the engine's
// walk/diff/plan/execute pipeline. By this point b.Dest's root is already
// set to resolution.EffectivePath.
func (b *Boss) runFolderSync(ctx context.Context, req SyncRequest, resolution engine.Resolution, destKind engine.RootKind) (engine.SyncResult, error) {
	var result engine.SyncResult

	if resolution.Destructive && resolution.ReplaceFileWithDir {
		result.FilesDeleted++
		if !req.DryRun {
			if err := ack(doCmd(b.Dest, wire.Command{Kind: wire.CommandDeleteFile, Path: mirrorsync.Root()})); err != nil {
				return result, errors.Wrap(err, "removing destination file before folder replace")
			}
		}
	}

	answer, err := b.resolvePolicyFlag(&b.Flags.CreateDestRootAncestors, mirrorsync.PromptCreateDestRootAncestors, mirrorsync.Root())
	if err != nil {
		return result, err
	}
	if answer == mirrorsync.AnswerProceed && !req.DryRun {
		if err := ack(doCmd(b.Dest, wire.Command{Kind: wire.CommandCreateDestAncestors, AbsolutePath: resolution.EffectivePath})); err != nil {
			return result, errors.Wrap(err, "creating destination ancestors")
		}
	}
	result.FoldersCreated++
	if !req.DryRun {
		if err := ack(doCmd(b.Dest, wire.Command{Kind: wire.CommandCreateFolder, Path: mirrorsync.Root()})); err != nil {
			return result, errors.Wrap(err, "creating destination root folder")
		}
	}

	// A dry-run that skipped the CreateDestAncestors/CreateFolder/DeleteFile
	// commands above leaves the destination root exactly as it was found:
	// nonexistent, or (for a folder replacing a file) still the file being
	// replaced. Either way the real GetEntries walk below would fail or
	// see stale content, so the would-be-fresh-folder side is synthesized
	// as empty instead of actually walked.
	var srcTree, destTree engine.Tree
	if req.DryRun && (destKind == engine.RootNonExistent || (resolution.Destructive && resolution.ReplaceFileWithDir)) {
		srcTree, err = engine.CollectEntries(b.Src, req.Filter)
		if err != nil {
			return result, errors.Wrap(err, "collecting source entries")
		}
		destTree = engine.Tree{Entries: map[string]mirrorsync.EntryDetails{}}
	} else {
		srcTree, destTree, err = engine.CollectBothSides(ctx, b.Src, b.Dest, req.Filter)
		if err != nil {
			return result, errors.Wrap(err, "collecting entries")
		}
	}
	actions, err := engine.Diff(srcTree, destTree, &b.Flags, b.Ask)
	if err != nil {
		return result, errors.Wrap(err, "diffing trees")
	}
	ordered := engine.Plan(actions)
	execResult := engine.Execute(ordered, b.Src, b.Dest, req.DryRun, b.Progress)
	result.FoldersCreated += execResult.FoldersCreated
	result.FilesCopied += execResult.FilesCopied
	result.SymlinksCopied += execResult.SymlinksCopied
	result.BytesCopied += execResult.BytesCopied
	result.FilesDeleted += execResult.FilesDeleted
	result.FoldersDeleted += execResult.FoldersDeleted
	result.SymlinksDeleted += execResult.SymlinksDeleted
	result.Errors = append(result.Errors, execResult.Errors...)
	return result, nil
}

// runFileSync drives the "src is a single file" half of spec.md §4.3.
// A file root has nothing to walk, so it bypasses engine.CollectBothSides
// entirely: srcDetails/destDetails (both already carrying Size/Modified
// courtesy of SetRoot) are compared directly, exactly as engine.Diff
// compares two KindFile entries, but against the root path itself
// (mirrorsync.Root()) rather than a walked child path.
func (b *Boss) runFileSync(ctx context.Context, req SyncRequest, srcDetails mirrorsync.RootDetails, resolution engine.Resolution, destKind engine.RootKind, destDetails mirrorsync.RootDetails) (engine.SyncResult, error) {
	var result engine.SyncResult

	if resolution.Destructive && !resolution.ReplaceFileWithDir {
		deleted, err := b.deleteTreeUnderRoot(ctx, req.DryRun)
		if err != nil {
			return result, errors.Wrap(err, "removing destination folder before file replace")
		}
		result.FilesDeleted += deleted.FilesDeleted
		result.FoldersDeleted += deleted.FoldersDeleted
		result.SymlinksDeleted += deleted.SymlinksDeleted
		destKind = engine.RootNonExistent
	}

	answer, err := b.resolvePolicyFlag(&b.Flags.CreateDestRootAncestors, mirrorsync.PromptCreateDestRootAncestors, mirrorsync.Root())
	if err != nil {
		return result, err
	}
	if answer == mirrorsync.AnswerProceed && !req.DryRun {
		if err := ack(doCmd(b.Dest, wire.Command{Kind: wire.CommandCreateDestAncestors, AbsolutePath: resolution.EffectivePath})); err != nil {
			return result, errors.Wrap(err, "creating destination ancestors")
		}
	}

	if destKind == engine.RootFile && srcDetails.Size == destDetails.Size && srcDetails.Modified.Equal(destDetails.Modified) {
		return result, nil // already identical: idempotence (spec.md §8).
	}

	action := mirrorsync.Action{Kind: mirrorsync.ActionCopyFile, Path: mirrorsync.Root(), Size: srcDetails.Size, Modified: srcDetails.Modified}
	execResult := engine.Execute([]mirrorsync.Action{action}, b.Src, b.Dest, req.DryRun, b.Progress)
	result.FoldersCreated += execResult.FoldersCreated
	result.FilesCopied += execResult.FilesCopied
	result.SymlinksCopied += execResult.SymlinksCopied
	result.BytesCopied += execResult.BytesCopied
	result.FilesDeleted += execResult.FilesDeleted
	result.FoldersDeleted += execResult.FoldersDeleted
	result.SymlinksDeleted += execResult.SymlinksDeleted
	result.Errors = append(result.Errors, execResult.Errors...)
	return result, nil
}

// deleteTreeUnderRoot recursively clears whatever currently exists under
// b.Dest's root (a folder, when a single-file source is about to replace
// it), walking it the same way engine.CollectEntries does and deleting
// bottom-up via engine.Plan so a folder's contents are always removed
// before the folder itself. dryRun, like engine.Execute's own dryRun
// parameter, still walks and counts what would be deleted without
// touching the destination.
func (b *Boss) deleteTreeUnderRoot(ctx context.Context, dryRun bool) (engine.SyncResult, error) {
	tree, err := engine.CollectEntries(b.Dest, mirrorsync.Filter{})
	if err != nil {
		return engine.SyncResult{}, err
	}
	keys := append([]string(nil), tree.Keys...)
	sort.Strings(keys)

	var actions []mirrorsync.Action
	for _, k := range keys {
		p, err := mirrorsync.NewPath(k)
		if err != nil {
			return engine.SyncResult{}, err
		}
		entry := tree.Entries[k]
		switch entry.Kind {
		case mirrorsync.KindFolder:
			actions = append(actions, mirrorsync.Action{Kind: mirrorsync.ActionDeleteFolder, Path: p})
		case mirrorsync.KindSymlink:
			actions = append(actions, mirrorsync.Action{Kind: mirrorsync.ActionDeleteSymlink, Path: p, SymlinkKind: entry.SymlinkKind})
		default:
			actions = append(actions, mirrorsync.Action{Kind: mirrorsync.ActionDeleteFile, Path: p})
		}
	}
	ordered := engine.Plan(actions)
	result := engine.Execute(ordered, b.Src, b.Dest, dryRun, b.Progress)
	if len(result.Errors) > 0 {
		return result, result.Errors[0]
	}
	result.FoldersDeleted++
	if !dryRun {
		if err := ack(doCmd(b.Dest, wire.Command{Kind: wire.CommandDeleteFolder, Path: mirrorsync.Root()})); err != nil {
			return result, errors.Wrap(err, "removing destination root folder")
		}
	}
	return result, nil
}
