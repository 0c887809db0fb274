package engine

import (
	"sort"

	mirrorsync "github.com/mirrorsync/mirrorsync"
)

// Plan reorders Diff's unordered Actions into the execution sequence
// spec.md §4.3 step 4 requires: folder creations top-down by depth, then
// file/symlink creations and updates (source map order, i.e. already
// lexicographic since Diff iterates sorted keys), then deletions
// bottom-up by depth with files/symlinks preceding the folders that
// contain them.
func Plan(actions []mirrorsync.Action) []mirrorsync.Action {
	var folderCreates, otherCreates, fileDeletes, folderDeletes []mirrorsync.Action
	for _, a := range actions {
		switch a.Kind {
		case mirrorsync.ActionCreateFolder:
			folderCreates = append(folderCreates, a)
		case mirrorsync.ActionDeleteFolder:
			folderDeletes = append(folderDeletes, a)
		case mirrorsync.ActionDeleteFile, mirrorsync.ActionDeleteSymlink:
			fileDeletes = append(fileDeletes, a)
		default:
			otherCreates = append(otherCreates, a)
		}
	}

	sort.SliceStable(folderCreates, func(i, j int) bool {
		return folderCreates[i].Path.Depth() < folderCreates[j].Path.Depth()
	})
	// Bottom-up: deepest first. Stable sort preserves the lexicographic
	// tie-break Diff already produced within equal depths.
	sort.SliceStable(folderDeletes, func(i, j int) bool {
		return folderDeletes[i].Path.Depth() > folderDeletes[j].Path.Depth()
	})

	out := make([]mirrorsync.Action, 0, len(actions))
	out = append(out, folderCreates...)
	out = append(out, otherCreates...)
	out = append(out, fileDeletes...)
	out = append(out, folderDeletes...)
	return out
}
