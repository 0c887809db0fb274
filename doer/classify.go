package doer

import (
	"os"
	"runtime"

	mirrorsync "github.com/mirrorsync/mirrorsync"
)

// platformDifferentiatesSymlinks reports whether the local OS tracks
// file-symlink vs folder-symlink as distinct kinds (Windows does, via
// separate CreateSymbolicLink flags; Unix does not, a symlink is a
// symlink regardless of what it points to). Sent back in every
// RootDetails response so the engine knows whether to honor or ignore a
// peer's SymlinkKind.
var platformDifferentiatesSymlinks = runtime.GOOS == "windows"

// entryDetailsFromInfo classifies one filesystem entry the way the
// original implementation's entry_details_from_metadata does: symlinks
// are identified from the Lstat-mode bit, and on Windows a symlink's
// kind (file vs folder) is determined by following it, since Windows
// symlinks are created with an explicit directory/file flag that Go's
// os.Lstat does not surface directly.
func entryDetailsFromInfo(fullPath string, info os.FileInfo) (mirrorsync.EntryDetails, error) {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(fullPath)
		if err != nil {
			return mirrorsync.EntryDetails{}, err
		}
		kind := mirrorsync.SymlinkGeneric
		if platformDifferentiatesSymlinks {
			if targetInfo, err := os.Stat(fullPath); err == nil && targetInfo.IsDir() {
				kind = mirrorsync.SymlinkFolder
			} else {
				kind = mirrorsync.SymlinkFile
			}
		}
		normalized := mirrorsync.NormalizeSymlinkTarget(target, runtime.GOOS == "windows")
		return mirrorsync.SymlinkEntry(kind, []byte(normalized)), nil
	}
	if info.IsDir() {
		return mirrorsync.FolderEntry(), nil
	}
	return mirrorsync.FileEntry(uint64(info.Size()), info.ModTime()), nil
}
