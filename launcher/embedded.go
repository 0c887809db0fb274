package launcher

import (
	"bytes"
	"compress/gzip"
	"debug/elf"
	"debug/pe"
	"io"
	"io/ioutil"
	"os"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// sectionNamePrefix matches SPEC_FULL.md §4.4's on-disk payload format:
// one ELF/PE section per platform, named mirrorsync_embedded_<platform>,
// holding a gzip-compressed copy of the "lite" binary for that platform.
const sectionNamePrefix = "mirrorsync_embedded_"

func sectionName(platform string) string {
	return sectionNamePrefix + platform
}

// EmbeddedBinary is one payload baked into a "big" binary: a lite binary
// for one target platform, gzip-compressed, grounded on
// embedded_binaries.rs's EmbeddedBinary{target_triple, data}.
type EmbeddedBinary struct {
	Platform string // "<arch>-<os>", e.g. "amd64-linux".
	Data     []byte // gzip-compressed.
}

// EmbeddedBinaries looks up per-platform payloads embedded in an
// executable, caching the decompressed bytes so a process that queries
// the same platform repeatedly (--list-embedded-binaries, then a deploy
// a moment later) only pays the gzip cost once. Grounded on bobg-bs's
// lru.go (hashicorp/golang-lru wrapping a Ref->Blob cache) generalized
// from blob refs to platform tags.
type EmbeddedBinaries struct {
	path  string
	cache *lru.Cache
}

// NewEmbeddedBinaries opens path (typically the running executable,
// os.Executable()) for section lookups, with a decompressed-bytes cache
// holding up to size platforms at once.
func NewEmbeddedBinaries(path string, size int) (*EmbeddedBinaries, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "constructing embedded-binary cache")
	}
	return &EmbeddedBinaries{path: path, cache: cache}, nil
}

// Lookup returns the decompressed lite binary for platform, or an error
// if no such section exists in the executable.
func (e *EmbeddedBinaries) Lookup(platform string) ([]byte, error) {
	if v, ok := e.cache.Get(platform); ok {
		return v.([]byte), nil
	}
	compressed, err := e.readSection(sectionName(platform))
	if err != nil {
		return nil, err
	}
	data, err := gunzip(compressed)
	if err != nil {
		return nil, errors.Wrapf(err, "decompressing embedded binary for %s", platform)
	}
	e.cache.Add(platform, data)
	return data, nil
}

// ListPlatforms reports every platform tag with an embedded section in
// the executable, for the list-embedded-binaries subcommand.
func (e *EmbeddedBinaries) ListPlatforms() ([]string, error) {
	f, err := os.Open(e.path)
	if err != nil {
		return nil, errors.Wrap(err, "opening executable")
	}
	defer f.Close()

	var platforms []string
	if ef, err := elf.NewFile(f); err == nil {
		for _, s := range ef.Sections {
			if p, ok := cutPrefix(s.Name, sectionNamePrefix); ok {
				platforms = append(platforms, p)
			}
		}
		return platforms, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if pf, err := pe.NewFile(f); err == nil {
		for _, s := range pf.Sections {
			if p, ok := cutPrefix(s.Name, sectionNamePrefix); ok {
				platforms = append(platforms, p)
			}
		}
		return platforms, nil
	}
	return nil, errors.New("executable is neither a recognized ELF nor PE image")
}

// readSection extracts one named section's raw bytes, trying ELF first
// (the common deploy source: a Linux-built boss embedding binaries for
// its remote targets) and falling back to PE.
func (e *EmbeddedBinaries) readSection(name string) ([]byte, error) {
	f, err := os.Open(e.path)
	if err != nil {
		return nil, errors.Wrap(err, "opening executable")
	}
	defer f.Close()

	if ef, err := elf.NewFile(f); err == nil {
		for _, s := range ef.Sections {
			if s.Name == name {
				return s.Data()
			}
		}
		return nil, errors.Errorf("no section %q in ELF image", name)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if pf, err := pe.NewFile(f); err == nil {
		for _, s := range pf.Sections {
			if s.Name == name {
				return s.Data()
			}
		}
		return nil, errors.Errorf("no section %q in PE image", name)
	}
	return nil, errors.New("executable is neither a recognized ELF nor PE image")
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ioutil.ReadAll(r)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
