package engine

import (
	"bytes"
	"sort"

	mirrorsync "github.com/mirrorsync/mirrorsync"
)

// Diff classifies the union of srcTree and destTree's keys in
// lexicographic order, implementing spec.md §4.3 step 3, and returns the
// unordered set of Actions the engine must take. Ordering into the
// create/delete execution sequence is Plan's job, not Diff's — this keeps
// classification (what needs to happen) separate from scheduling (in what
// order), the same separation doer.rs keeps between exec_command dispatch
// and the boss's own action ordering.
func Diff(srcTree, destTree Tree, flags *mirrorsync.BehaviourFlags, ask mirrorsync.PromptFunc) ([]mirrorsync.Action, error) {
	keys := unionSortedKeys(srcTree.Keys, destTree.Keys)

	var actions []mirrorsync.Action
	for _, key := range keys {
		p, err := mirrorsync.NewPath(key)
		if err != nil {
			return nil, err
		}
		srcEntry, inSrc := srcTree.Entries[key]
		destEntry, inDest := destTree.Entries[key]

		switch {
		case inSrc && !inDest:
			actions = append(actions, createAction(p, srcEntry))

		case !inSrc && inDest:
			actions = append(actions, deleteAction(p, destEntry))

		case srcEntry.SameKind(destEntry):
			action, ok, err := updateActionIfNeeded(p, srcEntry, destEntry, flags, ask)
			if err != nil {
				return nil, err
			}
			if ok {
				actions = append(actions, action)
			}

		default:
			verdict, err := resolveReplaceVerdict(srcEntry, p, flags, ask)
			if err != nil {
				return nil, err
			}
			if verdict == mirrorsync.AnswerSkip {
				continue
			}
			actions = append(actions, deleteAction(p, destEntry))
			actions = append(actions, createAction(p, srcEntry))
		}
	}
	return actions, nil
}

func unionSortedKeys(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func createAction(p mirrorsync.Path, entry mirrorsync.EntryDetails) mirrorsync.Action {
	switch entry.Kind {
	case mirrorsync.KindFolder:
		return mirrorsync.Action{Kind: mirrorsync.ActionCreateFolder, Path: p}
	case mirrorsync.KindSymlink:
		return mirrorsync.Action{Kind: mirrorsync.ActionCopySymlink, Path: p, SymlinkKind: entry.SymlinkKind, SymlinkTarget: entry.SymlinkTarget}
	default:
		return mirrorsync.Action{Kind: mirrorsync.ActionCopyFile, Path: p, Size: entry.Size, Modified: entry.Modified, Chunked: entry.Size > largeFileThreshold}
	}
}

func deleteAction(p mirrorsync.Path, entry mirrorsync.EntryDetails) mirrorsync.Action {
	switch entry.Kind {
	case mirrorsync.KindFolder:
		return mirrorsync.Action{Kind: mirrorsync.ActionDeleteFolder, Path: p}
	case mirrorsync.KindSymlink:
		return mirrorsync.Action{Kind: mirrorsync.ActionDeleteSymlink, Path: p, SymlinkKind: entry.SymlinkKind}
	default:
		return mirrorsync.Action{Kind: mirrorsync.ActionDeleteFile, Path: p}
	}
}

// largeFileThreshold marks files whose copy needs to stream in multiple
// WriteFileChunk commands rather than a single one, recorded on the
// action as Action.Chunked. It has no effect on correctness (the doer's
// GetFileContent/WriteFileChunk handlers chunk at a fixed size
// regardless), and neither Action.String nor Execute reads Chunked.
const largeFileThreshold = 4 << 20

// updateActionIfNeeded implements the "present on both, same kind" arm of
// spec.md §4.3 step 3 for files and symlinks; folders never need an
// update action.
func updateActionIfNeeded(p mirrorsync.Path, src, dest mirrorsync.EntryDetails, flags *mirrorsync.BehaviourFlags, ask mirrorsync.PromptFunc) (mirrorsync.Action, bool, error) {
	switch src.Kind {
	case mirrorsync.KindFolder:
		return mirrorsync.Action{}, false, nil

	case mirrorsync.KindSymlink:
		if bytes.Equal(src.SymlinkTarget, dest.SymlinkTarget) && src.SymlinkKind == dest.SymlinkKind {
			return mirrorsync.Action{}, false, nil
		}
		return mirrorsync.Action{Kind: mirrorsync.ActionCopySymlink, Path: p, SymlinkKind: src.SymlinkKind, SymlinkTarget: src.SymlinkTarget}, true, nil

	default: // KindFile
		if src.Size == dest.Size && src.Modified.Equal(dest.Modified) {
			return mirrorsync.Action{}, false, nil
		}
		if dest.Modified.After(src.Modified) {
			verdict, err := resolvePolicy(flags, &flags.OverwriteNewerDest, mirrorsync.PromptOverwriteNewerDest, p, ask)
			if err != nil {
				return mirrorsync.Action{}, false, err
			}
			if verdict == mirrorsync.AnswerSkip {
				return mirrorsync.Action{}, false, nil
			}
		}
		return mirrorsync.Action{Kind: mirrorsync.ActionCopyFile, Path: p, Size: src.Size, Modified: src.Modified, Chunked: src.Size > largeFileThreshold}, true, nil
	}
}

// resolveReplaceVerdict handles the "present on both, different kind" arm:
// a destructive replace gated by replace_file_with_folder or
// replace_folder_with_file.
func resolveReplaceVerdict(src mirrorsync.EntryDetails, p mirrorsync.Path, flags *mirrorsync.BehaviourFlags, ask mirrorsync.PromptFunc) (mirrorsync.PromptAnswer, error) {
	if src.Kind == mirrorsync.KindFolder {
		return resolvePolicy(flags, &flags.ReplaceFileWithFolder, mirrorsync.PromptReplaceFileWithFolder, p, ask)
	}
	return resolvePolicy(flags, &flags.ReplaceFolderWithFile, mirrorsync.PromptReplaceFolderWithFile, p, ask)
}

// resolvePolicy consults a single behaviour flag, prompting (serialized,
// via ask) when the policy is PolicyPrompt. A "*All" prompt answer
// updates *field for the remainder of the run (spec.md §4.3 step 7).
// PolicyError is surfaced as a mirrorsync.Error of kind ErrorPolicy.
func resolvePolicy(flags *mirrorsync.BehaviourFlags, field *mirrorsync.BehaviourPolicy, kind mirrorsync.PromptKind, p mirrorsync.Path, ask mirrorsync.PromptFunc) (mirrorsync.PromptAnswer, error) {
	switch *field {
	case mirrorsync.PolicyProceed:
		return mirrorsync.AnswerProceed, nil
	case mirrorsync.PolicySkip:
		return mirrorsync.AnswerSkip, nil
	case mirrorsync.PolicyError:
		return mirrorsync.AnswerError, &mirrorsync.Error{Kind: mirrorsync.ErrorPolicy, Side: mirrorsync.SideDest, Path: p.String(), Cause: errAction(kind)}
	default: // PolicyPrompt
		if ask == nil {
			return mirrorsync.AnswerError, &mirrorsync.Error{Kind: mirrorsync.ErrorPolicy, Side: mirrorsync.SideDest, Path: p.String(), Cause: errAction(kind)}
		}
		answer := ask(kind, p)
		if resolved, ok := answer.Resolved(); ok {
			*field = resolved
		}
		return answer.Immediate(), nil
	}
}

func errAction(kind mirrorsync.PromptKind) error {
	switch kind {
	case mirrorsync.PromptReplaceFileWithFolder:
		return errReplaceFileWithFolder
	case mirrorsync.PromptReplaceFolderWithFile:
		return errReplaceFolderWithFile
	case mirrorsync.PromptOverwriteNewerDest:
		return errOverwriteNewerDest
	default:
		return errPolicyBlocked
	}
}
