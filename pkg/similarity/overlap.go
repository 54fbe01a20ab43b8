// Package similarity provides neighbor-overlap matching and regrouping for photos.
package similarity

import (
	"fmt"
	"slices"
)

// DefaultOverlapThreshold is the number of shared neighbors at which two photos
// are considered near-duplicates.
const DefaultOverlapThreshold = 3

// Overlaps reports whether a and b share at least threshold neighbor ids.
// Both lists are sorted (on copies) and intersected with two cursors; the walk
// stops as soon as the threshold is reached. Empty input never overlaps.
func Overlaps(a, b []int, threshold int) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultOverlapThreshold
	}

	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)

	matches := 0
	i, j := 0, 0
	for i < len(x) && j < len(y) {
		switch {
		case x[i] == y[j]:
			matches++
			if matches >= threshold {
				return true
			}
			i++
			j++
		case x[i] < y[j]:
			i++
		default:
			j++
		}
	}
	return false
}

// OverlapCount returns the full size of the sorted-merge intersection of a and b.
// Duplicated ids pair up one-to-one.
func OverlapCount(a, b []int) int {
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)

	count := 0
	i, j := 0, 0
	for i < len(x) && j < len(y) {
		switch {
		case x[i] == y[j]:
			count++
			i++
			j++
		case x[i] < y[j]:
			i++
		default:
			j++
		}
	}
	return count
}

// MatchMode selects which members of a set a candidate photo is compared against.
type MatchMode string

const (
	// MatchRepresentative compares against the set's first member only.
	MatchRepresentative MatchMode = "representative"
	// MatchAllMembers requires an overlap with every member of the set.
	MatchAllMembers MatchMode = "all"
)

// ParseMatchMode converts a configuration string to a MatchMode.
// Empty input yields MatchRepresentative.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(s) {
	case "", MatchRepresentative:
		return MatchRepresentative, nil
	case MatchAllMembers:
		return MatchAllMembers, nil
	}
	return "", fmt.Errorf("unknown match mode %q", s)
}

// Matcher decides whether a photo's neighbor list belongs with a group of members.
type Matcher struct {
	Mode      MatchMode
	Threshold int
}

// NewMatcher creates a matcher, defaulting an unset threshold.
func NewMatcher(mode MatchMode, threshold int) Matcher {
	if threshold <= 0 {
		threshold = DefaultOverlapThreshold
	}
	if mode == "" {
		mode = MatchRepresentative
	}
	return Matcher{Mode: mode, Threshold: threshold}
}

// Accepts reports whether neighbors match the given members (representative first).
func (m Matcher) Accepts(neighbors []int, members [][]int) bool {
	if len(members) == 0 {
		return false
	}
	if m.Mode != MatchAllMembers {
		return Overlaps(members[0], neighbors, m.Threshold)
	}
	for _, member := range members {
		if !Overlaps(member, neighbors, m.Threshold) {
			return false
		}
	}
	return true
}
