package engine

import (
	"testing"
	"time"

	mirrorsync "github.com/mirrorsync/mirrorsync"
)

func mustPath(t *testing.T, s string) mirrorsync.Path {
	t.Helper()
	p, err := mirrorsync.NewPath(s)
	if err != nil {
		t.Fatalf("NewPath(%q): %v", s, err)
	}
	return p
}

func treeOf(entries map[string]mirrorsync.EntryDetails) Tree {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	return Tree{Entries: entries, Keys: keys}
}

func findAction(actions []mirrorsync.Action, raw string) (mirrorsync.Action, bool) {
	for _, a := range actions {
		if a.Path.Raw() == raw {
			return a, true
		}
	}
	return mirrorsync.Action{}, false
}

func TestDiffCreatesMissingFromDest(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	src := treeOf(map[string]mirrorsync.EntryDetails{
		"a.txt": mirrorsync.FileEntry(10, now),
	})
	dest := treeOf(nil)

	flags := mirrorsync.DefaultBehaviourFlags()
	actions, err := Diff(src, dest, &flags, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	a, ok := findAction(actions, "a.txt")
	if !ok || a.Kind != mirrorsync.ActionCopyFile {
		t.Fatalf("expected an ActionCopyFile for a.txt, got %+v (ok=%v)", a, ok)
	}
}

func TestDiffDeletesMissingFromSrc(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	src := treeOf(nil)
	dest := treeOf(map[string]mirrorsync.EntryDetails{
		"a.txt": mirrorsync.FileEntry(10, now),
	})

	flags := mirrorsync.DefaultBehaviourFlags()
	actions, err := Diff(src, dest, &flags, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	a, ok := findAction(actions, "a.txt")
	if !ok || a.Kind != mirrorsync.ActionDeleteFile {
		t.Fatalf("expected an ActionDeleteFile for a.txt, got %+v (ok=%v)", a, ok)
	}
}

func TestDiffSkipsIdenticalFiles(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	entries := map[string]mirrorsync.EntryDetails{"a.txt": mirrorsync.FileEntry(10, now)}
	src := treeOf(entries)
	dest := treeOf(map[string]mirrorsync.EntryDetails{"a.txt": mirrorsync.FileEntry(10, now)})

	flags := mirrorsync.DefaultBehaviourFlags()
	actions, err := Diff(src, dest, &flags, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("expected no actions for identical files, got %+v", actions)
	}
}

func TestDiffUpdatesChangedFile(t *testing.T) {
	older := time.Now().Add(-time.Hour).Truncate(time.Second)
	newer := time.Now().Truncate(time.Second)
	src := treeOf(map[string]mirrorsync.EntryDetails{"a.txt": mirrorsync.FileEntry(20, newer)})
	dest := treeOf(map[string]mirrorsync.EntryDetails{"a.txt": mirrorsync.FileEntry(10, older)})

	flags := mirrorsync.DefaultBehaviourFlags()
	actions, err := Diff(src, dest, &flags, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	a, ok := findAction(actions, "a.txt")
	if !ok || a.Kind != mirrorsync.ActionCopyFile || a.Size != 20 {
		t.Fatalf("expected an updated ActionCopyFile, got %+v (ok=%v)", a, ok)
	}
}

func TestDiffDestNewerThanSourceConsultsPolicy(t *testing.T) {
	older := time.Now().Add(-time.Hour).Truncate(time.Second)
	newer := time.Now().Truncate(time.Second)
	src := treeOf(map[string]mirrorsync.EntryDetails{"a.txt": mirrorsync.FileEntry(20, older)})
	dest := treeOf(map[string]mirrorsync.EntryDetails{"a.txt": mirrorsync.FileEntry(10, newer)})

	flags := mirrorsync.DefaultBehaviourFlags()
	flags.OverwriteNewerDest = mirrorsync.PolicySkip
	actions, err := Diff(src, dest, &flags, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("PolicySkip should skip the update, got %+v", actions)
	}

	flags.OverwriteNewerDest = mirrorsync.PolicyProceed
	actions, err = Diff(src, dest, &flags, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if _, ok := findAction(actions, "a.txt"); !ok {
		t.Error("PolicyProceed should still produce the update")
	}
}

func TestDiffReplaceFileWithFolderConsultsPolicy(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	src := treeOf(map[string]mirrorsync.EntryDetails{"a": mirrorsync.FolderEntry()})
	dest := treeOf(map[string]mirrorsync.EntryDetails{"a": mirrorsync.FileEntry(5, now)})

	flags := mirrorsync.DefaultBehaviourFlags()
	flags.ReplaceFileWithFolder = mirrorsync.PolicySkip
	actions, err := Diff(src, dest, &flags, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("PolicySkip should skip the replace, got %+v", actions)
	}

	flags.ReplaceFileWithFolder = mirrorsync.PolicyProceed
	actions, err = Diff(src, dest, &flags, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	del, ok := findAction(actions, "a")
	if !ok || del.Kind != mirrorsync.ActionDeleteFile {
		t.Fatalf("expected a delete-then-create pair starting with ActionDeleteFile, got %+v", actions)
	}
	foundCreate := false
	for _, a := range actions {
		if a.Path.Raw() == "a" && a.Kind == mirrorsync.ActionCreateFolder {
			foundCreate = true
		}
	}
	if !foundCreate {
		t.Errorf("expected an ActionCreateFolder for a among %+v", actions)
	}
}

func TestDiffPolicyErrorReturnsStructuredError(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	src := treeOf(map[string]mirrorsync.EntryDetails{"a.txt": mirrorsync.FileEntry(10, now)})
	dest := treeOf(map[string]mirrorsync.EntryDetails{"a.txt": mirrorsync.FileEntry(5, now.Add(time.Hour))})

	flags := mirrorsync.DefaultBehaviourFlags()
	flags.OverwriteNewerDest = mirrorsync.PolicyError
	_, err := Diff(src, dest, &flags, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	merr, ok := err.(*mirrorsync.Error)
	if !ok {
		t.Fatalf("expected a *mirrorsync.Error, got %T", err)
	}
	if merr.Kind != mirrorsync.ErrorPolicy {
		t.Errorf("Kind = %v, want ErrorPolicy", merr.Kind)
	}
}

func TestDiffSymlinkTargetChangeProducesUpdate(t *testing.T) {
	src := treeOf(map[string]mirrorsync.EntryDetails{
		"link": mirrorsync.SymlinkEntry(mirrorsync.SymlinkGeneric, []byte("new-target")),
	})
	dest := treeOf(map[string]mirrorsync.EntryDetails{
		"link": mirrorsync.SymlinkEntry(mirrorsync.SymlinkGeneric, []byte("old-target")),
	})

	flags := mirrorsync.DefaultBehaviourFlags()
	actions, err := Diff(src, dest, &flags, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	a, ok := findAction(actions, "link")
	if !ok || a.Kind != mirrorsync.ActionCopySymlink || string(a.SymlinkTarget) != "new-target" {
		t.Fatalf("expected an updated ActionCopySymlink, got %+v (ok=%v)", a, ok)
	}
}

func TestDiffPromptAllUpdatesFlagForRemainderOfRun(t *testing.T) {
	older := time.Now().Add(-time.Hour).Truncate(time.Second)
	newer := time.Now().Truncate(time.Second)
	src := treeOf(map[string]mirrorsync.EntryDetails{
		"a.txt": mirrorsync.FileEntry(1, older),
		"b.txt": mirrorsync.FileEntry(1, older),
	})
	dest := treeOf(map[string]mirrorsync.EntryDetails{
		"a.txt": mirrorsync.FileEntry(2, newer),
		"b.txt": mirrorsync.FileEntry(2, newer),
	})

	calls := 0
	ask := func(kind mirrorsync.PromptKind, p mirrorsync.Path) mirrorsync.PromptAnswer {
		calls++
		return mirrorsync.AnswerSkipAll
	}

	flags := mirrorsync.DefaultBehaviourFlags()
	actions, err := Diff(src, dest, &flags, ask)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one prompt call after *All resolves the flag, got %d", calls)
	}
	if len(actions) != 0 {
		t.Errorf("expected both files skipped, got %+v", actions)
	}
	if flags.OverwriteNewerDest != mirrorsync.PolicySkip {
		t.Errorf("flag should be resolved to PolicySkip, got %v", flags.OverwriteNewerDest)
	}
}
