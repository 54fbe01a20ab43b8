package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeighborList_Scan(t *testing.T) {
	tests := []struct {
		src     interface{}
		name    string
		want    NeighborList
		wantErr bool
	}{
		{name: "nil", src: nil, want: nil},
		{name: "string", src: "[3,1,2]", want: NeighborList{3, 1, 2}},
		{name: "bytes", src: []byte("[7]"), want: NeighborList{7}},
		{name: "empty bytes", src: []byte{}, want: nil},
		{name: "unsupported", src: 42, wantErr: true},
		{name: "malformed", src: "[1,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n NeighborList
			err := n.Scan(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestNeighborList_Value(t *testing.T) {
	v, err := NeighborList{4, 9, 1}.Value()
	require.NoError(t, err)
	assert.Equal(t, "[4,9,1]", v)

	v, err = NeighborList(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSortPhotos(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	photos := []Photo{
		{ID: "c", Timestamp: base.Add(time.Minute)},
		{ID: "b", Timestamp: base},
		{ID: "a", Timestamp: base},
	}

	SortPhotos(photos)

	ids := []string{photos[0].ID, photos[1].ID, photos[2].ID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestSimilarSet_AddRejectsExistingMember(t *testing.T) {
	p := Photo{ID: "p1", Timestamp: time.Unix(100, 0)}
	set := NewSingletonSet(p)

	assert.False(t, set.Add(p))
	assert.Equal(t, 1, set.Len())

	assert.True(t, set.Add(Photo{ID: "p2"}))
	assert.Equal(t, []string{"p1", "p2"}, set.MemberIDs)

	rep, ok := set.Representative()
	require.True(t, ok)
	assert.Equal(t, "p1", rep.ID)
}

func TestSimilarSet_Surfaced(t *testing.T) {
	set := NewSingletonSet(Photo{ID: "a"})
	assert.False(t, set.Surfaced(), "singletons are never surfaced")

	set.Add(Photo{ID: "b"})
	assert.True(t, set.Surfaced())

	set.Visible = false
	assert.False(t, set.Surfaced())
}

func TestWindow_Bounds(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 37, 0, 0, time.UTC)

	start, end := HourWindow(ts).Bounds()
	assert.Equal(t, time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC), end)

	start, end = DayWindow(ts).Bounds()
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), end)
}

func TestWindow_DayBoundsAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}

	// 2024-03-10 is 23 hours long in New York.
	w := DayWindow(time.Date(2024, 3, 10, 12, 0, 0, 0, loc))
	start, end := w.Bounds()
	assert.Equal(t, 23*time.Hour, end.Sub(start))
	assert.True(t, w.Contains(time.Date(2024, 3, 10, 23, 59, 0, 0, loc)))
	assert.False(t, w.Contains(time.Date(2024, 3, 11, 0, 0, 0, 0, loc)))
}
