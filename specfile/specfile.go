// Package specfile loads the YAML spec-file format of SPEC_FULL.md §6: a
// list of sync entries, each naming a source and destination endpoint
// (local or remote), an optional filter, and optional behaviour-policy
// overrides. It is a leaf package, usable from cmd/mirrorsync without
// pulling in boss/engine/launcher, mirroring the teacher's own config
// layer (cmd/bs's JSON `bsconf.json` loading in bs.go) generalized from
// JSON to YAML per spec.md §6's explicit format choice.
package specfile

import (
	"io/ioutil"
	"regexp"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	mirrorsync "github.com/mirrorsync/mirrorsync"
)

// Endpoint names one side of a sync: a path, and (if Host is set) the
// remote ssh host to reach it through.
type Endpoint struct {
	Host string `yaml:"host,omitempty"`
	User string `yaml:"user,omitempty"`
	Path string `yaml:"path"`
}

// IsRemote reports whether this endpoint names a remote host (ssh)
// rather than the local machine the boss process runs on.
func (e Endpoint) IsRemote() bool {
	return e.Host != ""
}

// TrailingSlash reports whether the user's path ends in a platform path
// separator, the decoration engine.ResolveRoots needs; it is derived
// from Path rather than configured separately, matching how a CLI
// frontend would read it straight off argv.
func (e Endpoint) TrailingSlash() bool {
	n := len(e.Path)
	return n > 0 && (e.Path[n-1] == '/' || e.Path[n-1] == '\\')
}

// FilterRuleSpec is one line of a sync entry's filter, matched in
// document order (the last matching rule wins — mirrorsync.Filter.Matches).
type FilterRuleSpec struct {
	Pattern string `yaml:"pattern"`
	Action  string `yaml:"action"` // "include" or "exclude"
}

// BehaviourSpec overrides zero or more of mirrorsync.DefaultBehaviourFlags'
// fields. A field left empty keeps the default.
type BehaviourSpec struct {
	OverwriteNewerDest      string `yaml:"overwrite_newer_dest,omitempty"`
	ReplaceFileWithFolder   string `yaml:"replace_file_with_folder,omitempty"`
	ReplaceFolderWithFile   string `yaml:"replace_folder_with_file,omitempty"`
	CreateDestRootAncestors string `yaml:"create_dest_root_ancestors,omitempty"`
}

// SyncEntry is one configured sync.
type SyncEntry struct {
	Source    Endpoint         `yaml:"source"`
	Dest      Endpoint         `yaml:"dest"`
	Filter    []FilterRuleSpec `yaml:"filter,omitempty"`
	DryRun    bool             `yaml:"dry_run,omitempty"`
	Behaviour *BehaviourSpec   `yaml:"behaviour,omitempty"`
}

// Spec is the top-level document: an ordered list of syncs to run.
type Spec struct {
	Syncs []SyncEntry `yaml:"syncs"`
}

// Load reads and parses a spec-file.
func Load(path string) (*Spec, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading spec-file %s", path)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, errors.Wrapf(err, "parsing spec-file %s", path)
	}
	for i, entry := range spec.Syncs {
		if entry.Source.Path == "" {
			return nil, errors.Errorf("sync entry %d: source.path is required", i)
		}
		if entry.Dest.Path == "" {
			return nil, errors.Errorf("sync entry %d: dest.path is required", i)
		}
	}
	return &spec, nil
}

// CompiledFilter compiles this entry's filter rules into a mirrorsync.Filter.
func (e SyncEntry) CompiledFilter() (mirrorsync.Filter, error) {
	rules := make([]mirrorsync.FilterRule, 0, len(e.Filter))
	for i, rs := range e.Filter {
		re, err := regexp.Compile(rs.Pattern)
		if err != nil {
			return mirrorsync.Filter{}, errors.Wrapf(err, "filter rule %d: compiling pattern %q", i, rs.Pattern)
		}
		action, err := parseFilterAction(rs.Action)
		if err != nil {
			return mirrorsync.Filter{}, errors.Wrapf(err, "filter rule %d", i)
		}
		rules = append(rules, mirrorsync.FilterRule{Regex: re, Action: action})
	}
	return mirrorsync.NewFilter(rules...), nil
}

func parseFilterAction(s string) (mirrorsync.FilterAction, error) {
	switch s {
	case "include", "":
		return mirrorsync.Include, nil
	case "exclude":
		return mirrorsync.Exclude, nil
	default:
		return 0, errors.Errorf("unknown filter action %q", s)
	}
}

// BehaviourFlags resolves this entry's behaviour overrides against
// mirrorsync.DefaultBehaviourFlags.
func (e SyncEntry) BehaviourFlags() (mirrorsync.BehaviourFlags, error) {
	flags := mirrorsync.DefaultBehaviourFlags()
	if e.Behaviour == nil {
		return flags, nil
	}
	var err error
	if flags.OverwriteNewerDest, err = overridePolicy(flags.OverwriteNewerDest, e.Behaviour.OverwriteNewerDest); err != nil {
		return flags, errors.Wrap(err, "overwrite_newer_dest")
	}
	if flags.ReplaceFileWithFolder, err = overridePolicy(flags.ReplaceFileWithFolder, e.Behaviour.ReplaceFileWithFolder); err != nil {
		return flags, errors.Wrap(err, "replace_file_with_folder")
	}
	if flags.ReplaceFolderWithFile, err = overridePolicy(flags.ReplaceFolderWithFile, e.Behaviour.ReplaceFolderWithFile); err != nil {
		return flags, errors.Wrap(err, "replace_folder_with_file")
	}
	if flags.CreateDestRootAncestors, err = overridePolicy(flags.CreateDestRootAncestors, e.Behaviour.CreateDestRootAncestors); err != nil {
		return flags, errors.Wrap(err, "create_dest_root_ancestors")
	}
	return flags, nil
}

func overridePolicy(current mirrorsync.BehaviourPolicy, s string) (mirrorsync.BehaviourPolicy, error) {
	switch s {
	case "":
		return current, nil
	case "error":
		return mirrorsync.PolicyError, nil
	case "skip":
		return mirrorsync.PolicySkip, nil
	case "prompt":
		return mirrorsync.PolicyPrompt, nil
	case "proceed":
		return mirrorsync.PolicyProceed, nil
	default:
		return current, errors.Errorf("unknown policy %q", s)
	}
}
