package similarity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/photodedup/pkg/models"
)

func photo(id string, neighbors ...int) models.Photo {
	return models.Photo{
		ID:          id,
		Timestamp:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		NeighborIDs: neighbors,
	}
}

func setIDs(sets []models.SimilarSet) [][]string {
	out := make([][]string, 0, len(sets))
	for _, s := range sets {
		out = append(out, s.MemberIDs)
	}
	return out
}

func TestRegroupAll(t *testing.T) {
	tests := []struct {
		name     string
		photos   []models.Photo
		mode     MatchMode
		expected [][]string
	}{
		{
			name:     "empty",
			photos:   nil,
			expected: [][]string{},
		},
		{
			name:     "single photo",
			photos:   []models.Photo{photo("a", 1, 2, 3)},
			expected: [][]string{},
		},
		{
			name: "pair and a stranger",
			photos: []models.Photo{
				photo("a", 1, 2, 3, 4, 5),
				photo("x", 40, 41, 42),
				photo("b", 5, 4, 3, 9, 8),
			},
			expected: [][]string{{"a", "b"}},
		},
		{
			name: "transitive neighbor of a member is not pulled in",
			photos: []models.Photo{
				photo("a", 1, 2, 3, 4, 5),
				photo("b", 1, 2, 3, 10, 11),
				photo("c", 10, 11, 12, 30, 31),
				photo("d", 10, 11, 12, 32, 33),
			},
			expected: [][]string{{"a", "b"}, {"c", "d"}},
		},
		{
			name: "representative mode accepts a photo matching only the founder",
			photos: []models.Photo{
				photo("a", 1, 2, 3, 4, 5),
				photo("b", 1, 2, 3, 10, 11),
				photo("c", 4, 5, 1, 20, 21),
			},
			mode:     MatchRepresentative,
			expected: [][]string{{"a", "b", "c"}},
		},
		{
			name: "all-members mode rejects a photo missing one member",
			photos: []models.Photo{
				photo("a", 1, 2, 3, 4, 5),
				photo("b", 1, 2, 3, 10, 11),
				photo("c", 4, 5, 1, 20, 21),
			},
			mode:     MatchAllMembers,
			expected: [][]string{{"a", "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sets := RegroupAll(tt.photos, NewMatcher(tt.mode, DefaultOverlapThreshold))
			if len(tt.expected) == 0 {
				assert.Empty(t, sets)
				return
			}
			assert.Equal(t, tt.expected, setIDs(sets))
		})
	}
}

func TestRegroupAll_PartitionProperty(t *testing.T) {
	photos := []models.Photo{
		photo("p0", 1, 2, 3, 4),
		photo("p1", 1, 2, 3, 5),
		photo("p2", 1, 2, 3, 6),
		photo("p3", 7, 8, 9, 10),
		photo("p4", 7, 8, 9, 11),
		photo("p5", 20, 21, 22),
		photo("p6", 2, 3, 4, 8),
	}

	sets := RegroupAll(photos, NewMatcher(MatchRepresentative, 3))

	seen := make(map[string]int)
	for _, s := range sets {
		assert.Greater(t, s.Len(), 1, "returned sets must have more than one member")
		assert.True(t, s.Visible)
		assert.Equal(t, s.MemberIDs[0], s.ID, "set id is the representative id")
		for _, id := range s.MemberIDs {
			seen[id]++
		}
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "photo %s appears in more than one set", id)
	}

	rest := Ungrouped(photos, sets)
	for _, p := range rest {
		assert.NotContains(t, seen, p.ID)
	}
	assert.Equal(t, len(photos), len(seen)+len(rest))
}

func TestRegroupAll_ResetsGroupedFlags(t *testing.T) {
	photos := []models.Photo{
		photo("a", 1, 2, 3),
		photo("b", 1, 2, 3),
	}

	first := RegroupAll(photos, NewMatcher(MatchRepresentative, 3))
	require.Len(t, first, 1)
	assert.True(t, photos[0].Grouped)
	assert.True(t, photos[1].Grouped)

	second := RegroupAll(photos, NewMatcher(MatchRepresentative, 3))
	assert.Equal(t, setIDs(first), setIDs(second))
}

func TestRegroupAll_DuplicateIDsCollapse(t *testing.T) {
	photos := []models.Photo{
		photo("a", 1, 2, 3),
		photo("a", 1, 2, 3),
	}

	assert.Empty(t, RegroupAll(photos, NewMatcher(MatchRepresentative, 3)))
}
