package mirrorsync

import "regexp"

// FilterAction is the verdict a FilterRule assigns to a matching path.
type FilterAction int

const (
	Include FilterAction = iota
	Exclude
)

// FilterRule pairs an already-compiled regex with its verdict. Regex
// compilation is explicitly out of scope for this engine (spec.md §1): the
// engine consumes FilterRule values built by an external CLI/config layer,
// the way the original implementation's doer accepts a pre-compiled
// RegexSet rather than raw pattern strings (boss_doer_interface.rs).
type FilterRule struct {
	Regex  *regexp.Regexp
	Action FilterAction
}

// Filter is an ordered list of FilterRules.
type Filter struct {
	Rules []FilterRule
}

// NewFilter builds a Filter from already-compiled rules.
func NewFilter(rules ...FilterRule) Filter {
	return Filter{Rules: rules}
}

// Matches applies filter semantics to a normalized relative path: the path
// matches the *last* rule whose regex matches; an unmatched path defaults
// to Include; the root is always Included regardless of rules.
func (f Filter) Matches(p Path) FilterAction {
	if p.IsRoot() {
		return Include
	}
	verdict := Include
	raw := p.Raw()
	for _, rule := range f.Rules {
		if rule.Regex.MatchString(raw) {
			verdict = rule.Action
		}
	}
	return verdict
}

// Included is a convenience wrapper around Matches for callers that only
// care about the boolean outcome.
func (f Filter) Included(p Path) bool {
	return f.Matches(p) == Include
}
