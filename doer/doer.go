// Package doer implements the filesystem-facing half of the protocol
// (spec.md §4.2): a Doer holds one root and one set of behaviour flags,
// processes Commands sequentially, and emits Responses. It never talks to
// a peer directly — that's comms's job — so it can run either in-process
// (handed Commands directly by the boss) or behind a ResponseSession.
//
// Grounded on doer.rs's exec_command dispatch loop and entry_details_from_metadata
// classification, and on the teacher's store/file.file sharded blob store for the
// create-if-not-exists file-write idiom (os.OpenFile with O_CREATE|O_TRUNC
// rather than a check-then-create race).
package doer

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	mirrorsync "github.com/mirrorsync/mirrorsync"
	"github.com/mirrorsync/mirrorsync/wire"
)

// Doer is the per-session state described by spec.md §3's doer-side
// session state: root, behaviour flags, and (while a multi-chunk file
// transfer is in progress) a scratch file handle.
type Doer struct {
	log *zap.Logger

	root           string // absolute, platform-native; empty until SetRoot.
	rootSet        bool
	behaviourFlags mirrorsync.BehaviourFlags

	// inProgressPath/inProgressFile track a file across WriteFileChunk calls
	// following the same path == continuation convention as the original's
	// in_progress_file_receive (doer.rs). inProgressModified is the mtime
	// carried by the CreateOrUpdateFile that opened the file; WriteFileChunk
	// itself never carries a Modified (spec.md §4.2 gives it none), so the
	// finalize step applies this stored value instead.
	inProgressPath     mirrorsync.Path
	inProgressFile     *os.File
	inProgressModified time.Time
}

// New constructs a Doer with no root set yet; SetRoot must be the first
// command processed, matching spec.md §3's lifecycle.
func New(log *zap.Logger) *Doer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Doer{log: log}
}

// Dispatch processes one Command and passes every Response it produces to
// emit: one for most commands, a stream for GetEntries/GetFileContent, and
// none for a non-final WriteFileChunk or for Shutdown. Every error that
// occurs while servicing the command is reported as ResponseError rather
// than returned from Dispatch — only a catastrophic transport-level
// failure outside this package is returned as a Go error, per spec.md
// §4.2 ("Every command replies with either a success-typed response or
// Error... Errors are never fatal to the doer").
func (d *Doer) Dispatch(cmd wire.Command, emit func(wire.Response) error) error {
	switch cmd.Kind {
	case wire.CommandSetRoot:
		return d.handleSetRoot(cmd, emit)
	case wire.CommandGetEntries:
		return d.handleGetEntries(cmd, emit)
	case wire.CommandGetFileContent:
		return d.handleGetFileContent(cmd, emit)
	case wire.CommandCreateOrUpdateFile:
		return d.handleCreateOrUpdateFile(cmd, emit)
	case wire.CommandWriteFileChunk:
		return d.handleWriteFileChunk(cmd, emit)
	case wire.CommandCreateSymlink:
		return d.handleCreateSymlink(cmd, emit)
	case wire.CommandCreateFolder:
		return d.handleCreateFolder(cmd, emit)
	case wire.CommandDeleteFile:
		return d.handleDeleteFile(cmd, emit)
	case wire.CommandDeleteFolder:
		return d.handleDeleteFolder(cmd, emit)
	case wire.CommandDeleteSymlink:
		return d.handleDeleteSymlink(cmd, emit)
	case wire.CommandCreateDestAncestors:
		return d.handleCreateDestAncestors(cmd, emit)
	case wire.CommandSetModifiedTime:
		return d.handleSetModifiedTime(cmd, emit)
	case wire.CommandMarker:
		return emit(wire.Response{Kind: wire.ResponseMarker, Marker: cmd.Marker})
	case wire.CommandShutdown:
		return d.handleShutdown()
	default:
		return emit(d.errorResponse(errors.Errorf("unknown command kind %d", cmd.Kind)))
	}
}

// errorResponse logs the failure through d.log (every error reported back
// to the boss is a normal part of the protocol, not a crash, so it goes out
// at Warn rather than Error) and builds the ResponseError to emit.
func (d *Doer) errorResponse(err error) wire.Response {
	d.log.Warn("command failed", zap.Error(err))
	return wire.Response{Kind: wire.ResponseError, ErrorMessage: err.Error()}
}

func ackResponse() wire.Response {
	return wire.Response{Kind: wire.ResponseAck}
}

// fullPath resolves rel against d.root using securejoin.SecureJoin, which
// rejects the rel path from ever escaping root via symlink tricks on the
// local filesystem — the local-filesystem-escape counterpart to the
// protocol-level rejection mirrorsync.NewPath already performs on the
// wire-carried string itself.
func (d *Doer) fullPath(rel mirrorsync.Path) (string, error) {
	if rel.IsRoot() {
		return d.root, nil
	}
	return securejoin.SecureJoin(d.root, rel.ToPlatformPath(filepath.Separator))
}

func (d *Doer) handleSetRoot(cmd wire.Command, emit func(wire.Response) error) error {
	d.root = cmd.RootAbsolutePath
	d.behaviourFlags = cmd.BehaviourFlags
	d.rootSet = true

	info, err := os.Lstat(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return emit(wire.Response{
				Kind:                            wire.ResponseRootDetails,
				RootExists:                      false,
				PlatformDifferentiatesSymlinks:  platformDifferentiatesSymlinks,
				PlatformDirSeparator:            filepath.Separator,
			})
		}
		return emit(d.errorResponse(errors.Wrapf(err, "probing root %q", d.root)))
	}

	details, err := entryDetailsFromInfo(d.root, info)
	if err != nil {
		return emit(d.errorResponse(errors.Wrapf(err, "classifying root %q", d.root)))
	}
	return emit(wire.Response{
		Kind:                            wire.ResponseRootDetails,
		RootExists:                      true,
		RootDetails:                     mirrorsync.RootDetails{Kind: details.Kind, SymlinkKind: details.SymlinkKind, Size: details.Size, Modified: details.Modified},
		PlatformDifferentiatesSymlinks:  platformDifferentiatesSymlinks,
		PlatformDirSeparator:            filepath.Separator,
	})
}

// handleGetEntries walks root pre-order, emitting one ResponseEntry per
// included entry, stopping descent into excluded folders, per spec.md
// §4.2's GetEntries row.
func (d *Doer) handleGetEntries(cmd wire.Command, emit func(wire.Response) error) error {
	if !d.rootSet {
		return emit(d.errorResponse(errors.New("GetEntries before SetRoot")))
	}
	if _, err := os.Lstat(d.root); err != nil {
		return emit(d.errorResponse(errors.Wrap(err, "root does not exist")))
	}

	err := walkPreOrder(d.root, mirrorsync.Root(), func(rel mirrorsync.Path, info os.FileInfo, fullPath string) (descend bool, err error) {
		if !cmd.Filter.Included(rel) {
			return false, nil
		}
		details, err := entryDetailsFromInfo(fullPath, info)
		if err != nil {
			return false, err
		}
		if err := emit(wire.Response{Kind: wire.ResponseEntry, Path: rel, EntryDetails: details}); err != nil {
			return false, err
		}
		return details.Kind == mirrorsync.KindFolder, nil
	})
	if err != nil {
		return emit(d.errorResponse(err))
	}
	return emit(wire.Response{Kind: wire.ResponseEndOfEntries})
}

func (d *Doer) handleGetFileContent(cmd wire.Command, emit func(wire.Response) error) error {
	full, err := d.fullPath(cmd.Path)
	if err != nil {
		return emit(d.errorResponse(err))
	}
	f, err := os.Open(full)
	if err != nil {
		return emit(d.errorResponse(errors.Wrapf(err, "opening %q", full)))
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return emit(d.errorResponse(errors.Wrapf(err, "statting %q", full)))
	}
	size := uint64(stat.Size())

	const chunkSize = 4 << 20 // spec.md §4.2: fixed constant, 4 MiB default.
	buf := make([]byte, chunkSize)
	var offset uint64
	if size == 0 {
		// Empty file: still need exactly one FileContent frame so the
		// destination side has something to finalize against.
		return emit(wire.Response{Kind: wire.ResponseFileContent, Offset: 0, Data: nil, MoreToFollow: false})
	}
	for offset < size {
		n, readErr := f.Read(buf)
		if readErr != nil && readErr != io.EOF {
			return emit(d.errorResponse(errors.Wrapf(readErr, "reading %q", full)))
		}
		if n > 0 {
			chunkOffset := offset
			offset += uint64(n)
			more := offset < size
			if err := emit(wire.Response{Kind: wire.ResponseFileContent, Offset: chunkOffset, Data: append([]byte(nil), buf[:n]...), MoreToFollow: more}); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
	}
	return nil
}

func (d *Doer) handleCreateOrUpdateFile(cmd wire.Command, emit func(wire.Response) error) error {
	full, err := d.fullPath(cmd.Path)
	if err != nil {
		return emit(d.errorResponse(err))
	}
	if d.inProgressFile != nil {
		d.inProgressFile.Close()
		d.inProgressFile = nil
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return emit(d.errorResponse(errors.Wrapf(err, "creating %q", full)))
	}
	d.inProgressPath = cmd.Path
	d.inProgressFile = f
	d.inProgressModified = cmd.Modified
	return emit(ackResponse())
}

// handleWriteFileChunk appends one chunk of an in-progress file. Only the
// final chunk gets a Response: the engine streams chunks without waiting
// for a per-chunk ack, relying on the bounded-credit channels for
// backpressure (spec.md §5), so acking every chunk would leave the
// response stream permanently out of step with the command stream.
func (d *Doer) handleWriteFileChunk(cmd wire.Command, emit func(wire.Response) error) error {
	if d.inProgressFile == nil || d.inProgressPath.Raw() != cmd.Path.Raw() {
		return emit(d.errorResponse(errors.New("WriteFileChunk without a matching CreateOrUpdateFile")))
	}
	if _, err := d.inProgressFile.WriteAt(cmd.Data, int64(cmd.Offset)); err != nil {
		d.inProgressFile.Close()
		d.inProgressFile = nil
		return emit(d.errorResponse(errors.Wrap(err, "writing chunk")))
	}
	if !cmd.Final {
		return nil
	}

	full := d.inProgressFile.Name()
	modified := d.inProgressModified
	err := d.inProgressFile.Close()
	d.inProgressFile = nil
	if err != nil {
		return emit(d.errorResponse(errors.Wrap(err, "closing file")))
	}
	if err := os.Chtimes(full, modified, modified); err != nil {
		return emit(d.errorResponse(errors.Wrapf(err, "setting modified time of %q", full)))
	}
	return emit(ackResponse())
}

func (d *Doer) handleCreateSymlink(cmd wire.Command, emit func(wire.Response) error) error {
	full, err := d.fullPath(cmd.Path)
	if err != nil {
		return emit(d.errorResponse(err))
	}
	_ = os.Remove(full) // idempotent create: clear any stale entry first.
	if err := os.Symlink(string(cmd.SymlinkTarget), full); err != nil {
		return emit(d.errorResponse(errors.Wrapf(err, "creating symlink %q", full)))
	}
	return emit(ackResponse())
}

func (d *Doer) handleCreateFolder(cmd wire.Command, emit func(wire.Response) error) error {
	full, err := d.fullPath(cmd.Path)
	if err != nil {
		return emit(d.errorResponse(err))
	}
	if err := os.Mkdir(full, 0o755); err != nil && !os.IsExist(err) {
		return emit(d.errorResponse(errors.Wrapf(err, "creating folder %q", full)))
	}
	return emit(ackResponse())
}

func (d *Doer) handleDeleteFile(cmd wire.Command, emit func(wire.Response) error) error {
	full, err := d.fullPath(cmd.Path)
	if err != nil {
		return emit(d.errorResponse(err))
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return emit(d.errorResponse(errors.Wrapf(err, "deleting file %q", full)))
	}
	return emit(ackResponse())
}

func (d *Doer) handleDeleteFolder(cmd wire.Command, emit func(wire.Response) error) error {
	full, err := d.fullPath(cmd.Path)
	if err != nil {
		return emit(d.errorResponse(err))
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return emit(d.errorResponse(errors.Wrapf(err, "deleting folder %q", full)))
	}
	return emit(ackResponse())
}

// handleDeleteSymlink uses os.Remove, same as handleDeleteFile: on every
// platform Go runs on, a symlink (whatever it points to) is deleted with
// the plain unlink-equivalent call, never the rmdir-equivalent one — the
// distinction spec.md's "Unix requires unlink for symlinks even when they
// point to a directory" calls out is automatic here, not a case the
// caller has to special-case.
func (d *Doer) handleDeleteSymlink(cmd wire.Command, emit func(wire.Response) error) error {
	full, err := d.fullPath(cmd.Path)
	if err != nil {
		return emit(d.errorResponse(err))
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return emit(d.errorResponse(errors.Wrapf(err, "deleting symlink %q", full)))
	}
	return emit(ackResponse())
}

func (d *Doer) handleCreateDestAncestors(cmd wire.Command, emit func(wire.Response) error) error {
	parent := filepath.Dir(cmd.AbsolutePath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return emit(d.errorResponse(errors.Wrapf(err, "creating ancestors of %q", cmd.AbsolutePath)))
	}
	return emit(ackResponse())
}

func (d *Doer) handleSetModifiedTime(cmd wire.Command, emit func(wire.Response) error) error {
	full, err := d.fullPath(cmd.Path)
	if err != nil {
		return emit(d.errorResponse(err))
	}
	if err := os.Chtimes(full, cmd.Modified, cmd.Modified); err != nil {
		return emit(d.errorResponse(errors.Wrapf(err, "setting modified time of %q", full)))
	}
	return emit(ackResponse())
}

func (d *Doer) handleShutdown() error {
	if d.inProgressFile != nil {
		d.inProgressFile.Close()
		d.inProgressFile = nil
	}
	return nil
}

// walkPreOrder walks root in pre-order (directory before its children,
// children in lexicographic order within a directory), invoking fn for
// every entry including root's immediate children but not root itself.
// fn's descend return value lets the caller stop a directory from being
// descended into, implementing the filter's "excluded directories are
// neither walked nor reported" rule without buffering the whole tree in
// memory first.
func walkPreOrder(absRoot string, relDir mirrorsync.Path, fn func(rel mirrorsync.Path, info os.FileInfo, fullPath string) (descend bool, err error)) error {
	absDir, err := securejoin.SecureJoin(absRoot, relDir.ToPlatformPath(filepath.Separator))
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return errors.Wrapf(err, "reading directory %q", absDir)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	for _, name := range names {
		rel, err := relDir.Join(name)
		if err != nil {
			return err
		}
		full := filepath.Join(absDir, name)
		info, err := os.Lstat(full)
		if err != nil {
			return errors.Wrapf(err, "stat %q", full)
		}
		descend, err := fn(rel, info, full)
		if err != nil {
			return err
		}
		if descend {
			if err := walkPreOrder(absRoot, rel, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
