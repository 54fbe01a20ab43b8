// Package models contains domain models for photodedup.
package models

import (
	"database/sql/driver"
	"fmt"
	"slices"
	"time"

	"github.com/goccy/go-json"
)

// DefaultNeighborCount is the number of reference neighbors kept per photo.
const DefaultNeighborCount = 10

// NeighborList is the ranked list of reference-image indices produced by the
// feature extractor. Index 0 is the nearest reference.
type NeighborList []int

// Scan implements sql.Scanner for NeighborList.
func (n *NeighborList) Scan(src interface{}) error {
	if src == nil {
		*n = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("NeighborList: unsupported type %T", src)
	}

	if len(data) == 0 {
		*n = nil
		return nil
	}

	return json.Unmarshal(data, n)
}

// Value implements driver.Valuer for NeighborList.
// The list is stored as JSON text so the same column works on SQLite and PostgreSQL.
func (n NeighborList) Value() (driver.Value, error) {
	if n == nil {
		return nil, nil
	}
	data, err := json.Marshal([]int(n))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// PhotoStub is a photo as yielded by the photo source, before feature extraction.
type PhotoStub struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
}

// Photo is a photo with its extracted neighbor list.
type Photo struct {
	Timestamp   time.Time    `json:"timestamp"`
	ID          string       `json:"id"`
	NeighborIDs NeighborList `json:"neighbor_ids"`

	// Grouped is scratch state for the batch regrouping pass. It is never persisted.
	Grouped bool `json:"-"`
}

// NewPhoto builds a Photo from a stub and its neighbor list.
func NewPhoto(stub PhotoStub, neighbors []int) Photo {
	return Photo{
		ID:          stub.ID,
		Timestamp:   stub.Timestamp,
		NeighborIDs: NeighborList(neighbors),
	}
}

// Stub returns the source-level view of the photo.
func (p Photo) Stub() PhotoStub {
	return PhotoStub{ID: p.ID, Timestamp: p.Timestamp}
}

// SortPhotos orders photos by (timestamp, id) ascending in place.
func SortPhotos(photos []Photo) {
	slices.SortStableFunc(photos, func(a, b Photo) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
