// Package search implements the suffix-appending policy used to turn a
// user-supplied name into an ordered list of fully-qualified candidates.
package search

import "strings"

// State is the shared search configuration: an ndots threshold and an
// ordered list of suffix domains. It has no behaviour beyond building
// candidate lists, so it carries no mutex; callers on the event-loop
// goroutine may mutate it directly between queries.
type State struct {
	Ndots    int
	Suffixes []string
}

// New returns a State with the spec's default ndots of 1 and no suffixes.
func New() *State {
	return &State{Ndots: 1}
}

// Add appends a suffix domain, tried in the order added.
func (s *State) Add(domain string) {
	s.Suffixes = append(s.Suffixes, strings.TrimSuffix(domain, "."))
}

// Clear removes every configured suffix, leaving Ndots untouched.
func (s *State) Clear() {
	s.Suffixes = nil
}

// Candidates returns the ordered list of fully-qualified names to attempt
// for name, per policy:
//
//   - if name already contains at least Ndots dots, the bare name is tried
//     first, then each suffix appended, in configured order;
//   - otherwise each suffix is tried first, in configured order, and the
//     bare name is tried last.
//
// "Bare name" means name itself, qualified with a trailing dot if it
// lacks one; it is not suffixed.
func (s *State) Candidates(name string) []string {
	bare := qualify(name)
	dots := strings.Count(strings.TrimSuffix(name, "."), ".")

	out := make([]string, 0, len(s.Suffixes)+1)
	if dots >= s.Ndots {
		out = append(out, bare)
		for _, suf := range s.Suffixes {
			out = append(out, qualify(name+"."+suf))
		}
		return out
	}

	for _, suf := range s.Suffixes {
		out = append(out, qualify(name+"."+suf))
	}
	out = append(out, bare)
	return out
}

// Qualify appends a trailing dot to name if it does not already have one.
func Qualify(name string) string {
	return qualify(name)
}

func qualify(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}
