package mirrorsync

import (
	"strings"

	"github.com/pkg/errors"
)

// Path is a normalized relative path as carried on the wire: forward-slash
// separated, no leading slash, no "." or ".." components, case-sensitive.
// The empty Path refers to the sync root itself.
type Path struct {
	inner string
}

// Root is the Path referring to the sync root itself.
func Root() Path {
	return Path{}
}

// IsRoot reports whether p refers to the sync root itself.
func (p Path) IsRoot() bool {
	return p.inner == ""
}

// String renders p as its normalized forward-slash form, or "<root>" for
// the root path.
func (p Path) String() string {
	if p.IsRoot() {
		return "<root>"
	}
	return p.inner
}

// Raw returns the normalized forward-slash string, without the "<root>"
// substitution String applies for display.
func (p Path) Raw() string {
	return p.inner
}

// Less orders paths lexicographically over their normalized form, which is
// what the diff/plan phases of the sync engine rely on for union-of-keys
// iteration and depth-ordering of creates/deletes.
func (p Path) Less(other Path) bool {
	return p.inner < other.inner
}

// Depth is the number of path components; the root has depth 0.
func (p Path) Depth() int {
	if p.IsRoot() {
		return 0
	}
	return strings.Count(p.inner, "/") + 1
}

// Join appends a single platform-neutral component to p.
func (p Path) Join(component string) (Path, error) {
	if component == "" {
		return Path{}, errors.New("empty path component")
	}
	if strings.ContainsAny(component, "/\\") {
		return Path{}, errors.Errorf("illegal characters in path component %q", component)
	}
	if component == "." || component == ".." {
		return Path{}, errors.Errorf("illegal path component %q", component)
	}
	if p.IsRoot() {
		return Path{inner: component}, nil
	}
	return Path{inner: p.inner + "/" + component}, nil
}

// NewPath validates and normalizes a forward-slash path received over the
// wire. It rejects absolute paths, parent escapes (".."), and empty
// components, mirroring the component-by-component validation the original
// implementation performs when building a RootRelativePath from a native
// path (see root_relative_path.rs in the retrieval pack's original source).
func NewPath(normalized string) (Path, error) {
	if normalized == "" {
		return Path{}, nil
	}
	if strings.HasPrefix(normalized, "/") {
		return Path{}, errors.Errorf("path %q must not be absolute", normalized)
	}
	parts := strings.Split(normalized, "/")
	for _, part := range parts {
		if part == "" {
			return Path{}, errors.Errorf("path %q has an empty component", normalized)
		}
		if part == "." || part == ".." {
			return Path{}, errors.Errorf("path %q escapes its root via %q", normalized, part)
		}
	}
	out := Path{inner: normalized}
	if out.String() != normalized && !out.IsRoot() {
		return Path{}, errors.Errorf("path %q does not round-trip through normalization", normalized)
	}
	return out, nil
}

// FromPlatformComponents builds a Path from a sequence of native path
// components (as produced by walking a directory tree), validating each
// component the way NewPath validates a whole string.
func FromPlatformComponents(components []string) (Path, error) {
	out := Root()
	for _, c := range components {
		var err error
		out, err = out.Join(c)
		if err != nil {
			return Path{}, err
		}
	}
	return out, nil
}

// ToPlatformPath renders p using the given directory separator, for
// presenting a path as it would look on the platform identified by
// separator (forward slash for Unix-like systems, backslash for Windows).
func (p Path) ToPlatformPath(separator byte) string {
	if separator == '/' {
		return p.inner
	}
	return strings.ReplaceAll(p.inner, "/", string(separator))
}

// NormalizeSymlinkTarget converts a symlink target string observed on the
// source platform into the carried wire form: backslashes are converted to
// forward slashes only when crossing from a Windows source to a Unix
// destination, never altering the on-disk representation, per the carried
// vs. on-disk distinction in spec.md's data model.
func NormalizeSymlinkTarget(target string, sourceIsWindows bool) string {
	if !sourceIsWindows {
		return target
	}
	return strings.ReplaceAll(target, "\\", "/")
}
