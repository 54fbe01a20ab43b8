package gorm

import (
	"fmt"
	"slices"

	"github.com/thebtf/photodedup/internal/db"
	"github.com/thebtf/photodedup/pkg/models"
)

// maxInClause bounds the number of bind variables per IN (...) query.
const maxInClause = 500

// chunkIDs splits ids into slices of at most size elements.
func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = maxInClause
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// normalizeIndices dedups member indices and orders them descending, so members
// can be removed one by one without shifting the positions still to be removed.
func normalizeIndices(indices []int, n int) ([]int, error) {
	seen := make(map[int]bool, len(indices))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("index %d of %d members: %w", i, n, db.ErrInvalidIndex)
		}
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out, nil
}

// membersOf validates the resolved member view of a set and drops repeated photo ids.
func membersOf(set *models.SimilarSet) ([]models.Photo, error) {
	if set.ID == "" {
		return nil, fmt.Errorf("set has no id")
	}
	if len(set.Members) != len(set.MemberIDs) {
		return nil, fmt.Errorf("set %s: %d member ids but %d resolved members", set.ID, len(set.MemberIDs), len(set.Members))
	}
	if len(set.Members) == 0 {
		return nil, fmt.Errorf("set %s has no members", set.ID)
	}

	seen := make(map[string]bool, len(set.Members))
	out := make([]models.Photo, 0, len(set.Members))
	for i, m := range set.Members {
		if m.ID != set.MemberIDs[i] {
			return nil, fmt.Errorf("set %s: member %d is %q, resolved photo is %q", set.ID, i, set.MemberIDs[i], m.ID)
		}
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out, nil
}
