package wire

import (
	mirrorsync "github.com/mirrorsync/mirrorsync"
)

// ResponseKind tags the variant held by a Response.
type ResponseKind uint8

const (
	ResponseRootDetails ResponseKind = iota
	ResponseEntry
	ResponseEndOfEntries
	ResponseFileContent
	ResponseMarker
	ResponseAck
	ResponseError
)

// Response is one reply sent from a doer to a boss. Every Command is
// answered by exactly one terminal Response, except Shutdown, which gets
// none, and a WriteFileChunk with Final unset, which also gets none: a
// file's chunk stream is answered once, after its final chunk. GetEntries
// streams ResponseEntry messages before its terminal ResponseEndOfEntries;
// GetFileContent streams ResponseFileContent messages, the last of which
// (MoreToFollow false) is its terminal Response.
//
// The original protocol leaves commands with no natural success payload
// (CreateFolder, DeleteFile, DeleteFolder, DeleteSymlink,
// CreateDestAncestors, SetModifiedTime) entirely unanswered on success,
// replying only on failure (doer.rs's exec_command). spec.md's "exactly
// one terminal Response" invariant is stricter than that and is the
// authoritative contract here, so those commands get an explicit
// ResponseAck on success instead of silence; see DESIGN.md.
type Response struct {
	Kind ResponseKind

	// ResponseRootDetails
	RootDetails                    mirrorsync.RootDetails
	RootExists                     bool
	PlatformDifferentiatesSymlinks bool
	PlatformDirSeparator           byte

	// ResponseEntry
	Path         mirrorsync.Path
	EntryDetails mirrorsync.EntryDetails

	// ResponseFileContent
	Offset       uint64
	Data         []byte
	MoreToFollow bool

	// ResponseMarker
	Marker ProgressMarker

	// ResponseError
	ErrorMessage string
}

func (res Response) Encode(w *Writer) {
	w.WriteU8(uint8(res.Kind))
	switch res.Kind {
	case ResponseRootDetails:
		w.WriteBool(res.RootExists)
		if res.RootExists {
			w.WriteU8(uint8(res.RootDetails.Kind))
			w.WriteU8(uint8(res.RootDetails.SymlinkKind))
			if res.RootDetails.Kind == mirrorsync.KindFile {
				w.WriteU64(res.RootDetails.Size)
				w.WriteTime(res.RootDetails.Modified)
			}
		}
		w.WriteBool(res.PlatformDifferentiatesSymlinks)
		w.WriteU8(res.PlatformDirSeparator)
	case ResponseEntry:
		encodePath(w, res.Path)
		encodeEntryDetails(w, res.EntryDetails)
	case ResponseEndOfEntries:
		// no payload
	case ResponseFileContent:
		w.WriteU64(res.Offset)
		w.WriteBytes(res.Data)
		w.WriteBool(res.MoreToFollow)
	case ResponseMarker:
		res.Marker.Encode(w)
	case ResponseAck:
		// no payload
	case ResponseError:
		w.WriteString(res.ErrorMessage)
	}
}

func DecodeResponse(r *Reader) Response {
	var res Response
	res.Kind = ResponseKind(r.ReadU8())
	switch res.Kind {
	case ResponseRootDetails:
		res.RootExists = r.ReadBool()
		if res.RootExists {
			res.RootDetails.Kind = mirrorsync.EntryKind(r.ReadU8())
			res.RootDetails.SymlinkKind = mirrorsync.SymlinkKind(r.ReadU8())
			if res.RootDetails.Kind == mirrorsync.KindFile {
				res.RootDetails.Size = r.ReadU64()
				res.RootDetails.Modified = r.ReadTime()
			}
		}
		res.PlatformDifferentiatesSymlinks = r.ReadBool()
		res.PlatformDirSeparator = r.ReadU8()
	case ResponseEntry:
		res.Path = decodePath(r)
		res.EntryDetails = decodeEntryDetails(r)
	case ResponseEndOfEntries:
	case ResponseFileContent:
		res.Offset = r.ReadU64()
		res.Data = r.ReadBytes()
		res.MoreToFollow = r.ReadBool()
	case ResponseMarker:
		res.Marker = decodeProgressMarker(r)
	case ResponseAck:
	case ResponseError:
		res.ErrorMessage = r.ReadString()
	}
	return res
}

func encodeEntryDetails(w *Writer, e mirrorsync.EntryDetails) {
	w.WriteU8(uint8(e.Kind))
	switch e.Kind {
	case mirrorsync.KindFile:
		w.WriteU64(e.Size)
		w.WriteTime(e.Modified)
	case mirrorsync.KindFolder:
	case mirrorsync.KindSymlink:
		w.WriteU8(uint8(e.SymlinkKind))
		w.WriteBytes(e.SymlinkTarget)
	}
}

func decodeEntryDetails(r *Reader) mirrorsync.EntryDetails {
	kind := mirrorsync.EntryKind(r.ReadU8())
	switch kind {
	case mirrorsync.KindFile:
		size := r.ReadU64()
		modified := r.ReadTime()
		return mirrorsync.FileEntry(size, modified)
	case mirrorsync.KindFolder:
		return mirrorsync.FolderEntry()
	case mirrorsync.KindSymlink:
		symlinkKind := mirrorsync.SymlinkKind(r.ReadU8())
		target := r.ReadBytes()
		return mirrorsync.SymlinkEntry(symlinkKind, target)
	default:
		return mirrorsync.EntryDetails{Kind: mirrorsync.KindNonExistent}
	}
}

// ProgressPhase tags the variant held by a ProgressMarker, mirroring the
// original's ProgressPhase enum (boss_doer_interface.rs) so the boss can
// render a live progress bar without polling the doer.
type ProgressPhase uint8

const (
	ProgressDeleting ProgressPhase = iota
	ProgressCopying
	ProgressDone
)

// ProgressMarker is carried by CommandMarker/ResponseMarker and echoed
// back by the doer so the boss can correlate progress against the
// action sequence it dispatched, without the doer needing to know the
// boss's own bookkeeping.
type ProgressMarker struct {
	Phase            ProgressPhase
	NumEntriesDeleted uint64
	NumEntriesCopied  uint64
	NumBytesCopied    uint64
	CurrentEntryID    uint64
}

func (m ProgressMarker) Encode(w *Writer) {
	w.WriteU8(uint8(m.Phase))
	switch m.Phase {
	case ProgressDeleting:
		w.WriteU64(m.NumEntriesDeleted)
		w.WriteU64(m.CurrentEntryID)
	case ProgressCopying:
		w.WriteU64(m.NumEntriesCopied)
		w.WriteU64(m.NumBytesCopied)
		w.WriteU64(m.CurrentEntryID)
	case ProgressDone:
	}
}

func decodeProgressMarker(r *Reader) ProgressMarker {
	var m ProgressMarker
	m.Phase = ProgressPhase(r.ReadU8())
	switch m.Phase {
	case ProgressDeleting:
		m.NumEntriesDeleted = r.ReadU64()
		m.CurrentEntryID = r.ReadU64()
	case ProgressCopying:
		m.NumEntriesCopied = r.ReadU64()
		m.NumBytesCopied = r.ReadU64()
		m.CurrentEntryID = r.ReadU64()
	case ProgressDone:
	}
	return m
}
