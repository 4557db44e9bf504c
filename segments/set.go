package segments

import "sort"

// stringSet is an unordered set of fragment identities.
type stringSet map[string]struct{}

func newStringSet(items ...string) stringSet {
	s := make(stringSet, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

func (s stringSet) add(item string) {
	s[item] = struct{}{}
}

func (s stringSet) has(item string) bool {
	_, ok := s[item]
	return ok
}

func (s stringSet) update(other stringSet) {
	for item := range other {
		s[item] = struct{}{}
	}
}

// union returns a new set containing the members of both sets.
func (s stringSet) union(other stringSet) stringSet {
	out := make(stringSet, len(s)+len(other))
	out.update(s)
	out.update(other)
	return out
}

// subsetOf reports whether every member of s is in other.
func (s stringSet) subsetOf(other stringSet) bool {
	for item := range s {
		if !other.has(item) {
			return false
		}
	}
	return true
}

// intersectCount returns the number of members shared with other.
func (s stringSet) intersectCount(other stringSet) int {
	n := 0
	for item := range s {
		if other.has(item) {
			n++
		}
	}
	return n
}

// difference returns the members of s not present in other.
func (s stringSet) difference(other stringSet) stringSet {
	out := make(stringSet)
	for item := range s {
		if !other.has(item) {
			out.add(item)
		}
	}
	return out
}

// sorted returns the members in lexical order, for deterministic logs.
func (s stringSet) sorted() []string {
	out := make([]string, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
