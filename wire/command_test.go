package wire

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	mirrorsync "github.com/mirrorsync/mirrorsync"
)

func roundTripCommand(t *testing.T, c Command) Command {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	c.Encode(w)
	if err := w.Err(); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	r := NewReader(&buf)
	got := DecodeCommand(r)
	if err := r.Err(); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestCommandRoundTrip(t *testing.T) {
	modified := time.Unix(1700000000, 0).UTC()
	path, err := mirrorsync.NewPath("a/b/c.txt")
	if err != nil {
		t.Fatal(err)
	}

	cases := []Command{
		{
			Kind:             CommandSetRoot,
			RootAbsolutePath: "/srv/data",
			BehaviourFlags:   mirrorsync.DefaultBehaviourFlags(),
		},
		{
			Kind: CommandGetEntries,
			Filter: mirrorsync.NewFilter(
				mirrorsync.FilterRule{Regex: regexp.MustCompile(`\.tmp$`), Action: mirrorsync.Exclude},
			),
		},
		{Kind: CommandGetFileContent, Path: path},
		{Kind: CommandCreateOrUpdateFile, Path: path, Modified: modified},
		{
			Kind:   CommandWriteFileChunk,
			Path:   path,
			Offset: 4096,
			Data:   []byte("chunk-of-bytes"),
			Final:  true,
		},
		{
			Kind:          CommandCreateSymlink,
			Path:          path,
			SymlinkKind:   mirrorsync.SymlinkFolder,
			SymlinkTarget: []byte("../other"),
		},
		{Kind: CommandCreateFolder, Path: path},
		{Kind: CommandDeleteFile, Path: path},
		{Kind: CommandDeleteFolder, Path: path},
		{Kind: CommandDeleteSymlink, Path: path, SymlinkKind: mirrorsync.SymlinkFile},
		{Kind: CommandCreateDestAncestors, AbsolutePath: "/srv/data/a/b"},
		{Kind: CommandSetModifiedTime, Path: path, Modified: modified},
		{
			Kind: CommandMarker,
			Marker: ProgressMarker{
				Phase:            ProgressCopying,
				NumEntriesCopied: 3,
				NumBytesCopied:   1024,
				CurrentEntryID:   7,
			},
		},
		{Kind: CommandShutdown},
	}

	regexComparer := cmp.Comparer(func(a, b *regexp.Regexp) bool { return a.String() == b.String() })
	for _, c := range cases {
		got := roundTripCommand(t, c)
		if diff := cmp.Diff(c, got, pathComparer(), timeComparer(), regexComparer); diff != "" {
			t.Errorf("Command %v round trip mismatch:\n%s", c.Kind, diff)
		}
	}
}

// TestCommandWriteFileChunkDoesNotCarryModified guards the wire contract
// that the mtime travels only on CommandCreateOrUpdateFile: a
// CommandWriteFileChunk built with Modified set must not round-trip that
// field, since the doer finalizes with the time it stored when the file
// was opened, not with anything read off a chunk command.
func TestCommandWriteFileChunkDoesNotCarryModified(t *testing.T) {
	path, err := mirrorsync.NewPath("a/b/c.txt")
	if err != nil {
		t.Fatal(err)
	}
	c := Command{
		Kind:     CommandWriteFileChunk,
		Path:     path,
		Offset:   4096,
		Data:     []byte("chunk-of-bytes"),
		Final:    true,
		Modified: time.Unix(1700000000, 0).UTC(),
	}
	got := roundTripCommand(t, c)
	if !got.Modified.IsZero() {
		t.Errorf("CommandWriteFileChunk.Modified should not round-trip, got %v", got.Modified)
	}
}

func TestCommandShutdownIsFinalMessage(t *testing.T) {
	if !(Command{Kind: CommandShutdown}).IsFinalMessage() {
		t.Error("CommandShutdown should be the final message")
	}
	if (Command{Kind: CommandGetEntries}).IsFinalMessage() {
		t.Error("CommandGetEntries should not be the final message")
	}
}
