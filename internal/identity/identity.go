// Package identity implements the bounded, ordered id sets that feed states use to
// remember which entities were already accounted for.
package identity

import (
	"slices"
	"strings"
)

const sep = ","

// Retention caps per feed. Zero means unbounded.
const (
	LiveLimit  = 0
	VoteLimit  = 300
	VideoLimit = 200
)

// Parse splits a serialized identity set. Empty elements and repeats are dropped;
// the first occurrence keeps its position.
func Parse(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Join serializes ids in their current order.
func Join(ids []string) string {
	return strings.Join(ids, sep)
}

// SortedJoin deduplicates and sorts ids before joining them.
func SortedJoin(ids []string) string {
	return Join(Sorted(ids))
}

// Sorted returns a sorted copy of ids without repeats or empty values.
func Sorted(ids []string) []string {
	out := Merge(ids, nil, 0)
	slices.Sort(out)
	return out
}

// Merge concatenates front and back, drops repeats and empty ids, and truncates the
// result to limit entries. Entries at the end of back are evicted first.
func Merge(front, back []string, limit int) []string {
	out := make([]string, 0, len(front)+len(back))
	seen := make(map[string]struct{}, len(front)+len(back))
	for _, list := range [][]string{front, back} {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Set is a membership index over an identity list.
type Set map[string]struct{}

// NewSet indexes ids for lookups.
func NewSet(ids []string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set. The empty id is never a member.
func (s Set) Has(id string) bool {
	if id == "" {
		return false
	}
	_, ok := s[id]
	return ok
}
