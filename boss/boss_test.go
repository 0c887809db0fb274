package boss

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	mirrorsync "github.com/mirrorsync/mirrorsync"
	"github.com/mirrorsync/mirrorsync/doer"
)

// dirsEqual walks a and b and fails the test if their file trees differ in
// structure or regular-file content, the same shape of comparison the
// teacher's own end-to-end sync test uses to assert a mirror invariant.
func dirsEqual(t *testing.T, a, b string) {
	t.Helper()
	namesA := listTree(t, a)
	namesB := listTree(t, b)
	if len(namesA) != len(namesB) {
		t.Fatalf("tree sizes differ: %v vs %v", namesA, namesB)
	}
	for i := range namesA {
		if namesA[i] != namesB[i] {
			t.Fatalf("tree entries differ at index %d: %q vs %q", i, namesA[i], namesB[i])
		}
	}
	for _, rel := range namesA {
		pa := filepath.Join(a, rel)
		pb := filepath.Join(b, rel)
		infoA, err := os.Lstat(pa)
		if err != nil {
			t.Fatalf("Lstat %q: %v", pa, err)
		}
		if infoA.IsDir() {
			continue
		}
		contentA, err := os.ReadFile(pa)
		if err != nil {
			t.Fatalf("ReadFile %q: %v", pa, err)
		}
		contentB, err := os.ReadFile(pb)
		if err != nil {
			t.Fatalf("ReadFile %q: %v", pb, err)
		}
		if string(contentA) != string(contentB) {
			t.Errorf("content differs for %q", rel)
		}
	}
}

func listTree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatalf("walking %q: %v", root, err)
	}
	sort.Strings(out)
	return out
}

func newLocalBoss(t *testing.T) *Boss {
	t.Helper()
	flags := mirrorsync.DefaultBehaviourFlags()
	flags.OverwriteNewerDest = mirrorsync.PolicyProceed
	flags.ReplaceFileWithFolder = mirrorsync.PolicyProceed
	flags.ReplaceFolderWithFile = mirrorsync.PolicyProceed
	flags.CreateDestRootAncestors = mirrorsync.PolicyProceed

	return &Boss{
		Src:   NewLocalEndpoint(doer.New(nil)),
		Dest:  NewLocalEndpoint(doer.New(nil)),
		Flags: flags,
	}
}

func TestRunSyncProducesAMirrorOfTheSourceTree(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()

	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "top.txt"), []byte("top-level"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "nested.txt"), []byte("nested-content"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := newLocalBoss(t)
	result, err := b.RunSync(context.Background(), SyncRequest{SourcePath: src, DestPath: dest})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.FilesCopied != 2 {
		t.Errorf("FilesCopied = %d, want 2", result.FilesCopied)
	}
	dirsEqual(t, src, dest)
}

func TestRunSyncIsIdempotent(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := newLocalBoss(t)
	if _, err := b.RunSync(context.Background(), SyncRequest{SourcePath: src, DestPath: dest}); err != nil {
		t.Fatalf("first RunSync: %v", err)
	}
	dirsEqual(t, src, dest)

	b2 := newLocalBoss(t)
	result, err := b2.RunSync(context.Background(), SyncRequest{SourcePath: src, DestPath: dest})
	if err != nil {
		t.Fatalf("second RunSync: %v", err)
	}
	if result.FilesCopied != 0 {
		t.Errorf("a second sync of an already-mirrored tree should copy nothing, got FilesCopied=%d", result.FilesCopied)
	}
	dirsEqual(t, src, dest)
}

func TestRunSyncDeletesFilesRemovedFromSource(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "keep.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "remove.txt"), []byte("remove"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := newLocalBoss(t)
	if _, err := b.RunSync(context.Background(), SyncRequest{SourcePath: src, DestPath: dest}); err != nil {
		t.Fatalf("first RunSync: %v", err)
	}
	dirsEqual(t, src, dest)

	if err := os.Remove(filepath.Join(src, "remove.txt")); err != nil {
		t.Fatal(err)
	}

	b2 := newLocalBoss(t)
	result, err := b2.RunSync(context.Background(), SyncRequest{SourcePath: src, DestPath: dest})
	if err != nil {
		t.Fatalf("second RunSync: %v", err)
	}
	if result.FilesDeleted != 1 {
		t.Errorf("FilesDeleted = %d, want 1", result.FilesDeleted)
	}
	dirsEqual(t, src, dest)
}

func TestRunSyncDryRunMakesNoChanges(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := newLocalBoss(t)
	result, err := b.RunSync(context.Background(), SyncRequest{SourcePath: src, DestPath: dest, DryRun: true})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if result.FilesCopied != 1 {
		t.Errorf("dry-run result should still report FilesCopied=1, got %d", result.FilesCopied)
	}
	entries, err := os.ReadDir(dest)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("dry-run must not touch the destination, found %d entries", len(entries))
	}
}

// TestRunSyncDryRunWithNonExistentDestCreatesNothing guards the case
// TestRunSyncDryRunMakesNoChanges can't see: a destination whose ancestors
// (and root folder) don't exist yet. CreateDestRootAncestors defaults to
// PolicyProceed, so a dry-run here must still elide CreateDestAncestors and
// CreateFolder — not just the copy itself (spec.md §4.3 step 6).
func TestRunSyncDryRunWithNonExistentDestCreatesNothing(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	base := t.TempDir()
	dest := filepath.Join(base, "missing-ancestor", "b")

	b := newLocalBoss(t)
	result, err := b.RunSync(context.Background(), SyncRequest{SourcePath: src, DestPath: dest, DryRun: true})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if result.FilesCopied != 1 {
		t.Errorf("dry-run result should still report FilesCopied=1, got %d", result.FilesCopied)
	}
	if result.FoldersCreated != 1 {
		t.Errorf("dry-run result should still report FoldersCreated=1, got %d", result.FoldersCreated)
	}
	if _, err := os.Lstat(filepath.Join(base, "missing-ancestor")); !os.IsNotExist(err) {
		t.Errorf("dry-run must not create destination ancestors, Lstat error = %v", err)
	}
	if _, err := os.Lstat(dest); !os.IsNotExist(err) {
		t.Errorf("dry-run must not create the destination root folder, Lstat error = %v", err)
	}
}

// TestRunSyncDryRunSingleFileReplacingFolderDeletesNothing guards the
// deleteTreeUnderRoot dry-run path: a dry-run sync where a single source
// file would replace an existing destination folder must not delete
// anything under that folder (spec.md §4.3 step 6, §8 dry-run property).
func TestRunSyncDryRunSingleFileReplacingFolderDeletesNothing(t *testing.T) {
	src := t.TempDir()
	srcFile := filepath.Join(src, "only.txt")
	if err := os.WriteFile(srcFile, []byte("replacement"), 0o644); err != nil {
		t.Fatal(err)
	}

	base := t.TempDir()
	destDir := filepath.Join(base, "was-a-folder")
	if err := os.MkdirAll(filepath.Join(destDir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(destDir, "sub", "nested.txt"), []byte("nested"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := newLocalBoss(t)
	result, err := b.RunSync(context.Background(), SyncRequest{SourcePath: srcFile, DestPath: destDir, DryRun: true})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if result.FilesCopied != 1 {
		t.Errorf("dry-run result should still report FilesCopied=1, got %d", result.FilesCopied)
	}
	if result.FilesDeleted != 1 || result.FoldersDeleted != 2 {
		t.Errorf("dry-run result should report the would-be deletion (FilesDeleted=%d, FoldersDeleted=%d), want FilesDeleted=1, FoldersDeleted=2", result.FilesDeleted, result.FoldersDeleted)
	}
	if _, err := os.Lstat(filepath.Join(destDir, "sub", "nested.txt")); err != nil {
		t.Errorf("dry-run must not delete the existing destination tree: %v", err)
	}
}

// TestRunSyncCopiesMultiChunkFile exercises a file large enough to span
// several WriteFileChunk commands, guarding against the doer acking every
// chunk instead of just the final one: a stray ack left in the queue
// after the first chunk would be read back as the response to the next
// unrelated command and desync every command after it.
func TestRunSyncCopiesMultiChunkFile(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()

	const size = 9 << 20 // spans three 4 MiB chunks
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 251)
	}
	if err := os.WriteFile(filepath.Join(src, "big.bin"), content, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "after.txt"), []byte("after"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := newLocalBoss(t)
	result, err := b.RunSync(context.Background(), SyncRequest{SourcePath: src, DestPath: dest})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.FilesCopied != 2 {
		t.Errorf("FilesCopied = %d, want 2", result.FilesCopied)
	}
	dirsEqual(t, src, dest)
}

func TestRunSyncSingleFileSource(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	srcFile := filepath.Join(src, "only.txt")
	if err := os.WriteFile(srcFile, []byte("single file contents"), 0o644); err != nil {
		t.Fatal(err)
	}
	destFile := filepath.Join(dest, "copy.txt")

	b := newLocalBoss(t)
	result, err := b.RunSync(context.Background(), SyncRequest{SourcePath: srcFile, DestPath: destFile})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if result.FilesCopied != 1 {
		t.Errorf("FilesCopied = %d, want 1", result.FilesCopied)
	}
	content, err := os.ReadFile(destFile)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "single file contents" {
		t.Errorf("content = %q", content)
	}
}
