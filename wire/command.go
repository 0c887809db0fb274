package wire

import (
	"regexp"
	"time"

	"github.com/pkg/errors"

	mirrorsync "github.com/mirrorsync/mirrorsync"
)

// CommandKind tags the variant held by a Command. The alphabet and the
// tag values are fixed once a boss and doer have exchanged a handshake;
// changing the order below is a wire-breaking change.
type CommandKind uint8

const (
	CommandSetRoot CommandKind = iota
	CommandGetEntries
	CommandGetFileContent
	CommandCreateOrUpdateFile
	CommandWriteFileChunk
	CommandCreateSymlink
	CommandCreateFolder
	CommandDeleteFile
	CommandDeleteFolder
	CommandDeleteSymlink
	CommandCreateDestAncestors
	CommandSetModifiedTime
	CommandMarker
	CommandShutdown
)

// Command is one request sent from a boss to a doer. Like mirrorsync.Action,
// it is a struct with an explicit discriminant rather than an interface
// hierarchy: fields are a superset across variants, and only those
// relevant to Kind are populated (boss_doer_interface.rs's Command enum,
// translated from a sum type to a tagged struct the way bs.Ref/bs.Blob/
// bs.Anchor are in the teacher).
type Command struct {
	Kind CommandKind

	// CommandSetRoot
	RootAbsolutePath string
	BehaviourFlags   mirrorsync.BehaviourFlags

	// CommandGetEntries
	Filter mirrorsync.Filter

	// CommandGetFileContent / CommandCreateOrUpdateFile / CommandWriteFileChunk
	// CommandCreateSymlink / CommandCreateFolder / CommandDeleteFile
	// CommandDeleteFolder / CommandDeleteSymlink / CommandSetModifiedTime
	Path mirrorsync.Path

	// CommandCreateOrUpdateFile / CommandSetModifiedTime. WriteFileChunk
	// does not carry its own Modified: the doer records it once, off the
	// CreateOrUpdateFile that opened the file, and applies it when the
	// chunk stream's final write closes the file (spec.md §4.2).
	Modified time.Time

	// CommandWriteFileChunk
	Offset uint64
	Data   []byte
	Final  bool

	// CommandCreateSymlink / CommandDeleteSymlink
	SymlinkKind   mirrorsync.SymlinkKind
	SymlinkTarget []byte

	// CommandCreateDestAncestors
	AbsolutePath string

	// CommandMarker
	Marker ProgressMarker
}

// IsFinalMessage reports whether this command terminates the message
// loop once processed; no further Commands will follow it in the same
// session.
func (c Command) IsFinalMessage() bool {
	return c.Kind == CommandShutdown
}

func (c Command) Encode(w *Writer) {
	w.WriteU8(uint8(c.Kind))
	switch c.Kind {
	case CommandSetRoot:
		w.WriteString(c.RootAbsolutePath)
		encodeBehaviourFlags(w, c.BehaviourFlags)
	case CommandGetEntries:
		encodeFilter(w, c.Filter)
	case CommandGetFileContent:
		encodePath(w, c.Path)
	case CommandCreateOrUpdateFile:
		encodePath(w, c.Path)
		w.WriteTime(c.Modified)
	case CommandWriteFileChunk:
		encodePath(w, c.Path)
		w.WriteU64(c.Offset)
		w.WriteBytes(c.Data)
		w.WriteBool(c.Final)
	case CommandCreateSymlink:
		encodePath(w, c.Path)
		w.WriteU8(uint8(c.SymlinkKind))
		w.WriteBytes(c.SymlinkTarget)
	case CommandCreateFolder:
		encodePath(w, c.Path)
	case CommandDeleteFile, CommandDeleteFolder:
		encodePath(w, c.Path)
	case CommandDeleteSymlink:
		encodePath(w, c.Path)
		w.WriteU8(uint8(c.SymlinkKind))
	case CommandCreateDestAncestors:
		w.WriteString(c.AbsolutePath)
	case CommandSetModifiedTime:
		encodePath(w, c.Path)
		w.WriteTime(c.Modified)
	case CommandMarker:
		c.Marker.Encode(w)
	case CommandShutdown:
		// no payload
	}
}

func DecodeCommand(r *Reader) Command {
	var c Command
	c.Kind = CommandKind(r.ReadU8())
	switch c.Kind {
	case CommandSetRoot:
		c.RootAbsolutePath = r.ReadString()
		c.BehaviourFlags = decodeBehaviourFlags(r)
	case CommandGetEntries:
		c.Filter = decodeFilter(r)
	case CommandGetFileContent:
		c.Path = decodePath(r)
	case CommandCreateOrUpdateFile:
		c.Path = decodePath(r)
		c.Modified = r.ReadTime()
	case CommandWriteFileChunk:
		c.Path = decodePath(r)
		c.Offset = r.ReadU64()
		c.Data = r.ReadBytes()
		c.Final = r.ReadBool()
	case CommandCreateSymlink:
		c.Path = decodePath(r)
		c.SymlinkKind = mirrorsync.SymlinkKind(r.ReadU8())
		c.SymlinkTarget = r.ReadBytes()
	case CommandCreateFolder:
		c.Path = decodePath(r)
	case CommandDeleteFile, CommandDeleteFolder:
		c.Path = decodePath(r)
	case CommandDeleteSymlink:
		c.Path = decodePath(r)
		c.SymlinkKind = mirrorsync.SymlinkKind(r.ReadU8())
	case CommandCreateDestAncestors:
		c.AbsolutePath = r.ReadString()
	case CommandSetModifiedTime:
		c.Path = decodePath(r)
		c.Modified = r.ReadTime()
	case CommandMarker:
		c.Marker = decodeProgressMarker(r)
	case CommandShutdown:
	}
	return c
}

func encodePath(w *Writer, p mirrorsync.Path) {
	w.WriteString(p.Raw())
}

func decodePath(r *Reader) mirrorsync.Path {
	raw := r.ReadString()
	if r.Err() != nil {
		return mirrorsync.Root()
	}
	p, err := mirrorsync.NewPath(raw)
	if err != nil {
		// A peer speaking the same protocol version never sends a path
		// that fails validation; treat a mismatch as a decode error
		// rather than silently substituting a different path.
		r.fail(errors.Wrapf(err, "decoding path %q", raw))
		return mirrorsync.Root()
	}
	return p
}

func encodeFilter(w *Writer, f mirrorsync.Filter) {
	w.WriteU32(uint32(len(f.Rules)))
	for _, rule := range f.Rules {
		w.WriteString(rule.Regex.String())
		w.WriteU8(uint8(rule.Action))
	}
}

func decodeFilter(r *Reader) mirrorsync.Filter {
	n := r.ReadU32()
	rules := make([]mirrorsync.FilterRule, 0, n)
	for i := uint32(0); i < n; i++ {
		pattern := r.ReadString()
		action := mirrorsync.FilterAction(r.ReadU8())
		if r.Err() != nil {
			break
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			r.fail(errors.Wrapf(err, "decoding filter pattern %q", pattern))
			break
		}
		rules = append(rules, mirrorsync.FilterRule{Regex: re, Action: action})
	}
	return mirrorsync.NewFilter(rules...)
}

func encodeBehaviourFlags(w *Writer, f mirrorsync.BehaviourFlags) {
	w.WriteU8(uint8(f.OverwriteNewerDest))
	w.WriteU8(uint8(f.ReplaceFileWithFolder))
	w.WriteU8(uint8(f.ReplaceFolderWithFile))
	w.WriteU8(uint8(f.CreateDestRootAncestors))
}

func decodeBehaviourFlags(r *Reader) mirrorsync.BehaviourFlags {
	return mirrorsync.BehaviourFlags{
		OverwriteNewerDest:      mirrorsync.BehaviourPolicy(r.ReadU8()),
		ReplaceFileWithFolder:   mirrorsync.BehaviourPolicy(r.ReadU8()),
		ReplaceFolderWithFile:   mirrorsync.BehaviourPolicy(r.ReadU8()),
		CreateDestRootAncestors: mirrorsync.BehaviourPolicy(r.ReadU8()),
	}
}
