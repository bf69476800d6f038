// Package resolve maps user-supplied identifiers to rule records.
//
// Matching is defined over an in-memory rule slice so the semantics are
// testable independent of the store's query language. Two modes exist:
// Prefix (case-insensitive, used when issuing a violation) and Exact
// (case-sensitive full equality, used for removal and updates). Both match
// against short_id and title. When several rules match, the one with the
// lexicographically lowest short_id wins; the tie-break is fixed so
// resolution never depends on store iteration order.
package resolve

import (
	"sort"
	"strings"

	"lawbook/api/internal/store"
)

// Prefix returns the rule whose short_id or title starts with identifier,
// compared case-insensitively.
func Prefix(rules []store.Rule, identifier string) (store.Rule, bool) {
	if identifier == "" {
		return store.Rule{}, false
	}
	needle := strings.ToLower(identifier)
	return pick(rules, func(r store.Rule) bool {
		return strings.HasPrefix(strings.ToLower(r.ShortID), needle) ||
			strings.HasPrefix(strings.ToLower(r.Title), needle)
	})
}

// Exact returns the rule whose short_id or title equals identifier exactly.
func Exact(rules []store.Rule, identifier string) (store.Rule, bool) {
	if identifier == "" {
		return store.Rule{}, false
	}
	return pick(rules, func(r store.Rule) bool {
		return r.ShortID == identifier || r.Title == identifier
	})
}

func pick(rules []store.Rule, match func(store.Rule) bool) (store.Rule, bool) {
	matched := make([]store.Rule, 0, 1)
	for _, rule := range rules {
		if match(rule) {
			matched = append(matched, rule)
		}
	}
	if len(matched) == 0 {
		return store.Rule{}, false
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ShortID < matched[j].ShortID
	})
	return matched[0], true
}
