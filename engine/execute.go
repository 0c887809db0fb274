package engine

import (
	"github.com/pkg/errors"

	mirrorsync "github.com/mirrorsync/mirrorsync"
	"github.com/mirrorsync/mirrorsync/wire"
)

// Endpoint is the minimal Send/Recv duplex the execution phase drives
// both the source and destination doer through, identical to EntryLister
// — the same interface covers both the walk phase's streaming
// GetEntries/GetFileContent exchanges and the execution phase's
// one-command-one-response exchanges, since both are really just "send a
// Command, read Responses until done" at different granularities.
type Endpoint = EntryLister

// SyncResult aggregates the outcome of one Execute call: counts for the
// mirror-invariant/idempotence tests in spec.md §8, plus every non-fatal
// per-action error collected along the way (spec.md §7's propagation
// rule: "non-fatal per-action errors are collected into a result
// summary").
type SyncResult struct {
	FoldersCreated  int
	FilesCopied     int
	SymlinksCopied  int
	BytesCopied     uint64
	FilesDeleted    int
	FoldersDeleted  int
	SymlinksDeleted int
	Errors          []error
}

func (r *SyncResult) recordError(err error) {
	r.Errors = append(r.Errors, err)
}

func (r *SyncResult) entriesCopied() uint64 {
	return uint64(r.FilesCopied + r.SymlinksCopied + r.FoldersCreated)
}

func (r *SyncResult) entriesDeleted() uint64 {
	return uint64(r.FilesDeleted + r.FoldersDeleted + r.SymlinksDeleted)
}

// do sends cmd to ep and blocks for its single terminal Response. It is
// not used for GetEntries/GetFileContent, whose Responses stream.
func do(ep Endpoint, cmd wire.Command) (wire.Response, error) {
	if err := ep.Send(cmd); err != nil {
		return wire.Response{}, err
	}
	return ep.Recv()
}

// ack treats res as the Ack/Error terminal response a mutating command
// produces, collapsing it to a plain error.
func ack(res wire.Response, err error) error {
	if err != nil {
		return err
	}
	if res.Kind == wire.ResponseError {
		return errors.New(res.ErrorMessage)
	}
	if res.Kind != wire.ResponseAck {
		return errors.Errorf("expected Ack, got response kind %d", res.Kind)
	}
	return nil
}

// Execute drives src and dest through the ordered action sequence Plan
// produced. dryRun elides every mutating command per spec.md §4.3 step 6,
// but still counts what *would* happen so a dry-run plan can be reported.
// progress, if non-nil, receives a ProgressMarker after each action.
func Execute(actions []mirrorsync.Action, src, dest Endpoint, dryRun bool, progress func(wire.ProgressMarker)) SyncResult {
	var result SyncResult
	for i, action := range actions {
		marker := wire.ProgressMarker{CurrentEntryID: uint64(i)}

		switch action.Kind {
		case mirrorsync.ActionCreateFolder:
			result.FoldersCreated++
			if !dryRun {
				if err := ack(do(dest, wire.Command{Kind: wire.CommandCreateFolder, Path: action.Path})); err != nil {
					result.recordError(fsErr(mirrorsync.SideDest, action.Path, err))
				}
			}
			marker.Phase, marker.NumEntriesCopied = wire.ProgressCopying, result.entriesCopied()

		case mirrorsync.ActionCopyFile:
			if dryRun {
				result.FilesCopied++
				result.BytesCopied += action.Size
			} else if n, err := copyFile(src, dest, action); err != nil {
				result.recordError(fsErr(mirrorsync.SideDest, action.Path, err))
			} else {
				result.FilesCopied++
				result.BytesCopied += n
			}
			marker.Phase, marker.NumEntriesCopied, marker.NumBytesCopied = wire.ProgressCopying, result.entriesCopied(), result.BytesCopied

		case mirrorsync.ActionCopySymlink:
			result.SymlinksCopied++
			if !dryRun {
				if err := ack(do(dest, wire.Command{Kind: wire.CommandCreateSymlink, Path: action.Path, SymlinkKind: action.SymlinkKind, SymlinkTarget: action.SymlinkTarget})); err != nil {
					result.recordError(fsErr(mirrorsync.SideDest, action.Path, err))
				}
			}
			marker.Phase, marker.NumEntriesCopied = wire.ProgressCopying, result.entriesCopied()

		case mirrorsync.ActionDeleteFile:
			result.FilesDeleted++
			if !dryRun {
				if err := ack(do(dest, wire.Command{Kind: wire.CommandDeleteFile, Path: action.Path})); err != nil {
					result.recordError(fsErr(mirrorsync.SideDest, action.Path, err))
				}
			}
			marker.Phase, marker.NumEntriesDeleted = wire.ProgressDeleting, result.entriesDeleted()

		case mirrorsync.ActionDeleteSymlink:
			result.SymlinksDeleted++
			if !dryRun {
				if err := ack(do(dest, wire.Command{Kind: wire.CommandDeleteSymlink, Path: action.Path, SymlinkKind: action.SymlinkKind})); err != nil {
					result.recordError(fsErr(mirrorsync.SideDest, action.Path, err))
				}
			}
			marker.Phase, marker.NumEntriesDeleted = wire.ProgressDeleting, result.entriesDeleted()

		case mirrorsync.ActionDeleteFolder:
			result.FoldersDeleted++
			if !dryRun {
				if err := ack(do(dest, wire.Command{Kind: wire.CommandDeleteFolder, Path: action.Path})); err != nil {
					result.recordError(fsErr(mirrorsync.SideDest, action.Path, err))
				}
			}
			marker.Phase, marker.NumEntriesDeleted = wire.ProgressDeleting, result.entriesDeleted()

		case mirrorsync.ActionCreateDestAncestors:
			if !dryRun {
				if err := ack(do(dest, wire.Command{Kind: wire.CommandCreateDestAncestors, AbsolutePath: action.AbsolutePath})); err != nil {
					result.recordError(fsErr(mirrorsync.SideDest, action.Path, err))
				}
			}

		case mirrorsync.ActionSetModifiedTime:
			if !dryRun {
				if err := ack(do(dest, wire.Command{Kind: wire.CommandSetModifiedTime, Path: action.Path, Modified: action.Modified})); err != nil {
					result.recordError(fsErr(mirrorsync.SideDest, action.Path, err))
				}
			}
		}

		if progress != nil {
			progress(marker)
		}
	}
	if progress != nil {
		progress(wire.ProgressMarker{Phase: wire.ProgressDone})
	}
	return result
}

// copyFile implements spec.md §4.3 step 5's pipeline: read chunks from
// the source doer (GetFileContent streams FileContent{offset,bytes}
// responses), relay each to the destination doer as WriteFileChunk, with
// no ack-per-chunk — backpressure comes from the comms layer's byte-credit
// channel, not from waiting for each WriteFileChunk's response before
// sending the next.
func copyFile(src, dest Endpoint, action mirrorsync.Action) (uint64, error) {
	if err := ack(do(dest, wire.Command{Kind: wire.CommandCreateOrUpdateFile, Path: action.Path, Modified: action.Modified})); err != nil {
		return 0, errors.Wrap(err, "creating destination file")
	}
	if err := src.Send(wire.Command{Kind: wire.CommandGetFileContent, Path: action.Path}); err != nil {
		return 0, errors.Wrap(err, "requesting file content")
	}

	var total uint64
	for {
		res, err := src.Recv()
		if err != nil {
			return total, errors.Wrap(err, "reading file content")
		}
		if res.Kind == wire.ResponseError {
			return total, errors.New(res.ErrorMessage)
		}
		if res.Kind != wire.ResponseFileContent {
			return total, errors.Errorf("unexpected response %d while copying %s", res.Kind, action.Path)
		}
		final := !res.MoreToFollow
		if err := dest.Send(wire.Command{Kind: wire.CommandWriteFileChunk, Path: action.Path, Offset: res.Offset, Data: res.Data, Final: final}); err != nil {
			return total, errors.Wrap(err, "writing file chunk")
		}
		total += uint64(len(res.Data))
		if final {
			break
		}
	}
	// The final WriteFileChunk's Ack confirms the finalize+mtime step
	// completed before the engine moves to the next plan step for this
	// file (spec.md §5's happens-before guarantee on the finalize action).
	return total, ack(dest.Recv())
}

func fsErr(side mirrorsync.Side, p mirrorsync.Path, cause error) *mirrorsync.Error {
	return &mirrorsync.Error{Kind: mirrorsync.ErrorFilesystem, Side: side, Path: p.String(), Cause: cause}
}
