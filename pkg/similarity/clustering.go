package similarity

import (
	"github.com/thebtf/photodedup/pkg/models"
)

// RegroupAll partitions photos into similar sets from scratch, ignoring any
// existing assignment and any time window.
//
// Photos are visited in input order. Each photo not yet grouped founds a set and
// pulls in every later ungrouped photo the matcher accepts. Only sets with more
// than one member are returned. Grouped flags are reset on entry, so the slice may
// be passed to consecutive passes. Runs in O(n²) comparisons.
func RegroupAll(photos []models.Photo, m Matcher) []models.SimilarSet {
	for i := range photos {
		photos[i].Grouped = false
	}
	if len(photos) <= 1 {
		return nil
	}

	result := make([]models.SimilarSet, 0)

	for i := 0; i < len(photos); i++ {
		if photos[i].Grouped {
			continue
		}

		// This photo becomes the representative of its set
		photos[i].Grouped = true
		set := models.NewSingletonSet(photos[i])
		members := [][]int{photos[i].NeighborIDs}

		for j := i + 1; j < len(photos); j++ {
			if photos[j].Grouped {
				continue
			}
			if !m.Accepts(photos[j].NeighborIDs, members) {
				continue
			}
			if set.Add(photos[j]) {
				members = append(members, photos[j].NeighborIDs)
			}
			photos[j].Grouped = true
		}

		if set.Len() > 1 {
			result = append(result, set)
		}
	}

	return result
}

// Ungrouped returns the photos RegroupAll left outside every returned set.
// It must be called on the same slice right after RegroupAll.
func Ungrouped(photos []models.Photo, sets []models.SimilarSet) []models.Photo {
	inSet := make(map[string]bool)
	for _, s := range sets {
		for _, id := range s.MemberIDs {
			inSet[id] = true
		}
	}

	out := make([]models.Photo, 0, len(photos))
	for _, p := range photos {
		if !inSet[p.ID] {
			out = append(out, p)
		}
	}
	return out
}
