package gorm

import (
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/photodedup/pkg/models"
)

// GORM Models

// Photo is a persisted photo and its place in a similar set.
// Every stored photo belongs to exactly one set; (set_id, position) orders the members.
type Photo struct {
	ID             string              `gorm:"primaryKey;type:varchar(512)"`
	SetID          string              `gorm:"type:varchar(512);index:idx_photos_set_position,priority:1;not null"`
	NeighborIDs    models.NeighborList `gorm:"type:text"`
	Position       int                 `gorm:"index:idx_photos_set_position,priority:2;not null"`
	TimestampEpoch int64               `gorm:"index:idx_photos_timestamp;not null"`
	CreatedAtEpoch int64               `gorm:"not null"`
}

func (Photo) TableName() string { return "photos" }

// BeforeCreate hook to ensure timestamps are set.
func (p *Photo) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAtEpoch == 0 {
		p.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// SimilarSet is a persisted set header. MemberCount mirrors the number of photo
// rows pointing at the set so surfaced sets can be filtered in SQL.
type SimilarSet struct {
	ID             string `gorm:"primaryKey;type:varchar(512)"`
	TimestampEpoch int64  `gorm:"index:idx_sets_timestamp,sort:desc;not null"`
	MemberCount    int    `gorm:"default:0;not null"`
	CreatedAtEpoch int64  `gorm:"not null"`
	UpdatedAtEpoch int64  `gorm:"not null"`
	Visible        bool   `gorm:"index:idx_sets_visible;not null"`
}

func (SimilarSet) TableName() string { return "similar_sets" }

// BeforeCreate hook to ensure timestamps are set.
func (s *SimilarSet) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UnixMilli()
	if s.CreatedAtEpoch == 0 {
		s.CreatedAtEpoch = now
	}
	if s.UpdatedAtEpoch == 0 {
		s.UpdatedAtEpoch = now
	}
	return nil
}

func toEpoch(t time.Time) int64 {
	return t.UnixMilli()
}

func fromEpoch(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func photoRow(p models.Photo, setID string, position int) Photo {
	return Photo{
		ID:             p.ID,
		SetID:          setID,
		Position:       position,
		NeighborIDs:    p.NeighborIDs,
		TimestampEpoch: toEpoch(p.Timestamp),
	}
}

func (p Photo) toModel() models.Photo {
	return models.Photo{
		ID:          p.ID,
		Timestamp:   fromEpoch(p.TimestampEpoch),
		NeighborIDs: p.NeighborIDs,
	}
}

func (s SimilarSet) toModel(members []Photo) models.SimilarSet {
	out := models.SimilarSet{
		ID:        s.ID,
		Timestamp: fromEpoch(s.TimestampEpoch),
		Visible:   s.Visible,
		MemberIDs: make([]string, 0, len(members)),
		Members:   make([]models.Photo, 0, len(members)),
	}
	for _, m := range members {
		out.MemberIDs = append(out.MemberIDs, m.ID)
		out.Members = append(out.Members, m.toModel())
	}
	return out
}
