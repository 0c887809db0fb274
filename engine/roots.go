// Package engine implements the sync engine described in spec.md §4.3:
// root resolution, a concurrent tree walk over two doers, a diff/plan
// phase, and the execution loop that drives both doers through the
// protocol. It is the component that turns two independent doer.Doer (or
// remote ResponseSession) views of a filesystem into one ordered sequence
// of mirrorsync.Action values and then carries them out.
package engine

import (
	"path"
	"strings"

	"github.com/pkg/errors"

	mirrorsync "github.com/mirrorsync/mirrorsync"
)

// RootKind collapses mirrorsync.EntryKind to the three cases the
// trailing-slash decision table distinguishes. Symlinks are treated as
// files for this table (spec.md §4.3: "Symlinks are treated as files for
// this table... they cannot carry trailing slashes"), with the one Unix
// quirk that a trailing-slash symlink-to-folder resolves through to the
// target folder — EffectiveRootKind applies that mapping.
type RootKind int

const (
	RootNonExistent RootKind = iota
	RootFile
	RootFolder
)

// EffectiveRootKind maps a doer's reported RootDetails, plus whether the
// user wrote a trailing slash on that side's path, to the RootKind the
// decision table below keys on.
func EffectiveRootKind(details mirrorsync.RootDetails, exists bool, trailingSlash bool) RootKind {
	if !exists {
		return RootNonExistent
	}
	switch details.Kind {
	case mirrorsync.KindFolder:
		return RootFolder
	case mirrorsync.KindSymlink:
		if trailingSlash && isUnixFolderSymlinkQuirk(details) {
			return RootFolder
		}
		return RootFile
	default:
		return RootFile
	}
}

// isUnixFolderSymlinkQuirk reports whether details describes a symlink
// whose target is a folder, on a platform where the OS itself resolves a
// trailing-slash path through a symlink to its target (spec.md §4.3's
// "OS quirk" note). SymlinkFolder is only ever reported on a platform
// that differentiates symlink kinds; on Unix, where kinds are never
// differentiated, the table's quirk is instead handled by the doer
// resolving the trailing-slash path itself before Lstat — the engine
// need not special-case it further here, so this always returns false
// for SymlinkGeneric. The hook exists so a future platform-aware doer can
// report the distinction explicitly.
func isUnixFolderSymlinkQuirk(details mirrorsync.RootDetails) bool {
	return details.SymlinkKind == mirrorsync.SymlinkFolder
}

// Resolution is the verdict of ResolveRoots: either an error, or an
// effective destination path plus whether reaching it requires a
// destructive replacement subject to a behaviour flag.
type Resolution struct {
	EffectivePath      string
	Destructive        bool
	ReplaceFileWithDir bool // only meaningful when Destructive
}

// ResolveRoots implements spec.md §4.3 step 1's matrix: src type on rows,
// dest type on columns, trailing slashes on both sides as explicit extra
// dimensions. destPath is an absolute, platform-native path and
// srcBasename is the final component of the source path; destPath is the
// literal path the user wrote for the
// destination (without any trailing slash, which is carried separately
// in destTrailingSlash).
func ResolveRoots(srcKind RootKind, srcTrailingSlash bool, srcBasename string, destKind RootKind, destTrailingSlash bool, destPath string) (Resolution, error) {
	if srcKind == RootNonExistent {
		return Resolution{}, errors.New("source does not exist")
	}
	if srcKind == RootFile && srcTrailingSlash {
		// Row "src=File a/" is X across every destination column.
		return Resolution{}, errors.New("source is a file but was given a trailing slash")
	}

	appended := joinEffective(destPath, srcBasename)

	if srcKind == RootFile {
		switch destKind {
		case RootNonExistent:
			if destTrailingSlash {
				return Resolution{EffectivePath: appended}, nil
			}
			return Resolution{EffectivePath: destPath}, nil
		case RootFile:
			if destTrailingSlash {
				return Resolution{}, errors.New("destination is a file but was given a trailing slash")
			}
			return Resolution{EffectivePath: destPath}, nil
		case RootFolder:
			if destTrailingSlash {
				return Resolution{EffectivePath: appended}, nil
			}
			// dest=Folder b, no trailing slash: destructive replace of the
			// whole folder b with the file (the table's "b!" cell).
			return Resolution{EffectivePath: destPath, Destructive: true, ReplaceFileWithDir: false}, nil
		}
	}

	// srcKind == RootFolder (the "a" and "a/" rows are identical).
	switch destKind {
	case RootNonExistent:
		return Resolution{EffectivePath: destPath}, nil
	case RootFile:
		if destTrailingSlash {
			return Resolution{}, errors.New("destination is a file but was given a trailing slash")
		}
		// dest=File b, no trailing slash: destructive replace of the file
		// b with the folder a's contents (the table's "b!" cell).
		return Resolution{EffectivePath: destPath, Destructive: true, ReplaceFileWithDir: true}, nil
	case RootFolder:
		return Resolution{EffectivePath: destPath}, nil
	}

	return Resolution{}, errors.Errorf("unreachable: srcKind=%d destKind=%d", srcKind, destKind)
}

func joinEffective(destPath, basename string) string {
	if destPath == "" {
		return basename
	}
	sep := "/"
	if strings.Contains(destPath, "\\") && !strings.Contains(destPath, "/") {
		sep = "\\"
	}
	if strings.HasSuffix(destPath, sep) {
		return destPath + basename
	}
	return destPath + sep + basename
}

// BaseName returns the final path component of an absolute, possibly
// platform-native, path, accepting either separator so it works
// regardless of which OS produced the source or destination path a user
// wrote on the command line.
func BaseName(p string) string {
	p = strings.TrimRight(p, `/\`)
	if p == "" {
		return p
	}
	return path.Base(strings.ReplaceAll(p, `\`, `/`))
}
