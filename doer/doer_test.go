package doer

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	mirrorsync "github.com/mirrorsync/mirrorsync"
	"github.com/mirrorsync/mirrorsync/wire"
)

func collectOne(t *testing.T, d *Doer, cmd wire.Command) wire.Response {
	t.Helper()
	var got []wire.Response
	if err := d.Dispatch(cmd, func(res wire.Response) error {
		got = append(got, res)
		return nil
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one response, got %d: %+v", len(got), got)
	}
	return got[0]
}

func setRoot(t *testing.T, d *Doer, root string) wire.Response {
	return collectOne(t, d, wire.Command{
		Kind:             wire.CommandSetRoot,
		RootAbsolutePath: root,
		BehaviourFlags:   mirrorsync.DefaultBehaviourFlags(),
	})
}

func TestSetRootReportsMissingRoot(t *testing.T) {
	dir := t.TempDir()
	d := New(nil)
	res := setRoot(t, d, filepath.Join(dir, "does-not-exist"))
	if res.Kind != wire.ResponseRootDetails || res.RootExists {
		t.Fatalf("got %+v, want a RootDetails response reporting RootExists=false", res)
	}
}

func TestSetRootReportsExistingFolder(t *testing.T) {
	dir := t.TempDir()
	d := New(nil)
	res := setRoot(t, d, dir)
	if !res.RootExists || res.RootDetails.Kind != mirrorsync.KindFolder {
		t.Fatalf("got %+v, want RootExists=true Kind=KindFolder", res)
	}
}

func TestCreateFolderIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	d := New(nil)
	setRoot(t, d, dir)

	sub, err := mirrorsync.NewPath("sub")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		res := collectOne(t, d, wire.Command{Kind: wire.CommandCreateFolder, Path: sub})
		if res.Kind != wire.ResponseAck {
			t.Fatalf("attempt %d: got %+v, want ResponseAck", i, res)
		}
	}
	info, err := os.Stat(filepath.Join(dir, "sub"))
	if err != nil || !info.IsDir() {
		t.Fatalf("sub should exist as a directory: %v", err)
	}
}

func TestCreateOrUpdateFileThenWriteChunksThenReadBack(t *testing.T) {
	dir := t.TempDir()
	d := New(nil)
	setRoot(t, d, dir)

	p, err := mirrorsync.NewPath("file.txt")
	if err != nil {
		t.Fatal(err)
	}
	modified := time.Now().Add(-time.Hour).Truncate(time.Second)

	res := collectOne(t, d, wire.Command{Kind: wire.CommandCreateOrUpdateFile, Path: p, Modified: modified})
	if res.Kind != wire.ResponseAck {
		t.Fatalf("CreateOrUpdateFile: got %+v", res)
	}

	// Non-final chunks produce no response at all: the engine streams
	// without waiting for a per-chunk ack (spec.md §5).
	var nonFinalResponses []wire.Response
	if err := d.Dispatch(wire.Command{Kind: wire.CommandWriteFileChunk, Path: p, Offset: 0, Data: []byte("hello ")}, func(res wire.Response) error {
		nonFinalResponses = append(nonFinalResponses, res)
		return nil
	}); err != nil {
		t.Fatalf("Dispatch(first chunk): %v", err)
	}
	if len(nonFinalResponses) != 0 {
		t.Fatalf("a non-final WriteFileChunk should not be acked, got %+v", nonFinalResponses)
	}

	// The final chunk never carries Modified itself; the mtime set here
	// comes from the CreateOrUpdateFile that opened the file.
	res = collectOne(t, d, wire.Command{Kind: wire.CommandWriteFileChunk, Path: p, Offset: 6, Data: []byte("world"), Final: true})
	if res.Kind != wire.ResponseAck {
		t.Fatalf("final chunk: got %+v", res)
	}

	full := filepath.Join(dir, "file.txt")
	content, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "hello world" {
		t.Errorf("content = %q, want %q", content, "hello world")
	}
	info, err := os.Stat(full)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.ModTime().Equal(modified) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), modified)
	}
}

// TestWriteFileChunkIgnoresItsOwnModifiedField guards against the mtime
// regressing to the zero time: a WriteFileChunk whose own Modified field is
// unset (as it always is once decoded off the wire) must still finalize
// with the mtime the preceding CreateOrUpdateFile carried.
func TestWriteFileChunkIgnoresItsOwnModifiedField(t *testing.T) {
	dir := t.TempDir()
	d := New(nil)
	setRoot(t, d, dir)

	p, err := mirrorsync.NewPath("stamped.txt")
	if err != nil {
		t.Fatal(err)
	}
	modified := time.Now().Add(-48 * time.Hour).Truncate(time.Second)

	collectOne(t, d, wire.Command{Kind: wire.CommandCreateOrUpdateFile, Path: p, Modified: modified})
	res := collectOne(t, d, wire.Command{Kind: wire.CommandWriteFileChunk, Path: p, Data: []byte("x"), Final: true})
	if res.Kind != wire.ResponseAck {
		t.Fatalf("final chunk: got %+v", res)
	}

	info, err := os.Stat(filepath.Join(dir, "stamped.txt"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.ModTime().Equal(modified) {
		t.Errorf("mtime = %v, want %v (the CreateOrUpdateFile time, not the WriteFileChunk's zero Modified)", info.ModTime(), modified)
	}
}

// TestMultiChunkWriteProducesExactlyOneResponse guards against an
// ack-per-chunk regression: a file split across several WriteFileChunk
// commands must yield zero responses for every non-final chunk and exactly
// one for the final chunk, so a caller draining one response per file copy
// (rather than one per chunk) never desyncs against a stream of un-drained
// acks.
func TestMultiChunkWriteProducesExactlyOneResponse(t *testing.T) {
	dir := t.TempDir()
	d := New(nil)
	setRoot(t, d, dir)

	p, err := mirrorsync.NewPath("big.bin")
	if err != nil {
		t.Fatal(err)
	}
	collectOne(t, d, wire.Command{Kind: wire.CommandCreateOrUpdateFile, Path: p})

	var allResponses []wire.Response
	emit := func(res wire.Response) error {
		allResponses = append(allResponses, res)
		return nil
	}
	chunks := []wire.Command{
		{Kind: wire.CommandWriteFileChunk, Path: p, Offset: 0, Data: []byte("aaaa")},
		{Kind: wire.CommandWriteFileChunk, Path: p, Offset: 4, Data: []byte("bbbb")},
		{Kind: wire.CommandWriteFileChunk, Path: p, Offset: 8, Data: []byte("cccc"), Final: true},
	}
	for i, chunk := range chunks {
		if err := d.Dispatch(chunk, emit); err != nil {
			t.Fatalf("chunk %d: Dispatch: %v", i, err)
		}
	}
	if len(allResponses) != 1 {
		t.Fatalf("expected exactly one response across %d chunks, got %d: %+v", len(chunks), len(allResponses), allResponses)
	}
	if allResponses[0].Kind != wire.ResponseAck {
		t.Errorf("the one response should be an Ack, got %+v", allResponses[0])
	}
}

func TestWriteFileChunkWithoutCreateOrUpdateFileErrors(t *testing.T) {
	dir := t.TempDir()
	d := New(nil)
	setRoot(t, d, dir)

	p, err := mirrorsync.NewPath("orphan.txt")
	if err != nil {
		t.Fatal(err)
	}
	res := collectOne(t, d, wire.Command{Kind: wire.CommandWriteFileChunk, Path: p, Data: []byte("x"), Final: true})
	if res.Kind != wire.ResponseError {
		t.Fatalf("got %+v, want ResponseError", res)
	}
}

func TestGetEntriesWalksPreOrderAndRespectsFilter(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "skip"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "keep", "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skip", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := New(nil)
	setRoot(t, d, dir)

	filter := mirrorsync.NewFilter(mirrorsync.FilterRule{
		Regex:  regexp.MustCompile(`^skip(/|$)`),
		Action: mirrorsync.Exclude,
	})

	var entries []wire.Response
	done := false
	err := d.Dispatch(wire.Command{Kind: wire.CommandGetEntries, Filter: filter}, func(res wire.Response) error {
		if res.Kind == wire.ResponseEndOfEntries {
			done = true
			return nil
		}
		entries = append(entries, res)
		return nil
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !done {
		t.Fatal("expected a terminal ResponseEndOfEntries")
	}

	var seen []string
	for _, e := range entries {
		seen = append(seen, e.Path.Raw())
	}
	wantContains := []string{"keep", filepath.ToSlash("keep/a.txt")}
	for _, w := range wantContains {
		found := false
		for _, s := range seen {
			if s == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected entry %q among %v", w, seen)
		}
	}
	for _, s := range seen {
		if s == "skip" || s == "skip/b.txt" {
			t.Errorf("excluded entry %q should not have been walked or reported", s)
		}
	}
	keepAt, childAt := -1, -1
	for i, s := range seen {
		switch s {
		case "keep":
			keepAt = i
		case "keep/a.txt":
			childAt = i
		}
	}
	if keepAt > childAt {
		t.Errorf("pre-order walk should report folder %q before its child %q, got %v", "keep", "keep/a.txt", seen)
	}
}

func TestDeleteFileToleratesAlreadyGone(t *testing.T) {
	dir := t.TempDir()
	d := New(nil)
	setRoot(t, d, dir)

	p, err := mirrorsync.NewPath("gone.txt")
	if err != nil {
		t.Fatal(err)
	}
	res := collectOne(t, d, wire.Command{Kind: wire.CommandDeleteFile, Path: p})
	if res.Kind != wire.ResponseAck {
		t.Fatalf("deleting an already-absent file should ack, got %+v", res)
	}
}

func TestCreateSymlinkIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "target.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := New(nil)
	setRoot(t, d, dir)

	p, err := mirrorsync.NewPath("link")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		res := collectOne(t, d, wire.Command{Kind: wire.CommandCreateSymlink, Path: p, SymlinkTarget: []byte("target.txt")})
		if res.Kind != wire.ResponseAck {
			t.Fatalf("attempt %d: got %+v", i, res)
		}
	}
	target, err := os.Readlink(filepath.Join(dir, "link"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "target.txt" {
		t.Errorf("symlink target = %q, want target.txt", target)
	}
}

func TestShutdownClosesInProgressFile(t *testing.T) {
	dir := t.TempDir()
	d := New(nil)
	setRoot(t, d, dir)

	p, err := mirrorsync.NewPath("partial.txt")
	if err != nil {
		t.Fatal(err)
	}
	collectOne(t, d, wire.Command{Kind: wire.CommandCreateOrUpdateFile, Path: p})
	if err := d.Dispatch(wire.Command{Kind: wire.CommandShutdown}, func(wire.Response) error { return nil }); err != nil {
		t.Fatalf("Dispatch(Shutdown): %v", err)
	}
	if d.inProgressFile != nil {
		t.Error("inProgressFile should be nil after shutdown")
	}
}
