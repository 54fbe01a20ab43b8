package models

import (
	"slices"
	"time"
)

// SimilarSet is a group of near-duplicate photos.
// MemberIDs is ordered; the first member is the representative.
// Members is the resolved view of MemberIDs, filled in by the store.
type SimilarSet struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
	MemberIDs []string  `json:"member_ids"`
	Members   []Photo   `json:"members,omitempty"`
	Visible   bool      `json:"visible"`
}

// NewSingletonSet founds a set whose id and timestamp are taken from the photo.
func NewSingletonSet(p Photo) SimilarSet {
	return SimilarSet{
		ID:        p.ID,
		Timestamp: p.Timestamp,
		Visible:   true,
		MemberIDs: []string{p.ID},
		Members:   []Photo{p},
	}
}

// Representative returns the first member, if any.
func (s *SimilarSet) Representative() (Photo, bool) {
	if len(s.Members) == 0 {
		return Photo{}, false
	}
	return s.Members[0], true
}

// Contains reports whether the photo id is already a member.
func (s *SimilarSet) Contains(photoID string) bool {
	return slices.Contains(s.MemberIDs, photoID)
}

// Add appends a photo unless it is already a member. It reports whether the set changed.
func (s *SimilarSet) Add(p Photo) bool {
	if s.Contains(p.ID) {
		return false
	}
	s.MemberIDs = append(s.MemberIDs, p.ID)
	s.Members = append(s.Members, p)
	return true
}

// Len returns the number of members.
func (s *SimilarSet) Len() int {
	return len(s.MemberIDs)
}

// Surfaced reports whether the set should be shown to the user.
func (s *SimilarSet) Surfaced() bool {
	return s.Visible && len(s.MemberIDs) > 1
}

// AssemblyOutcome says whether an ingested photo joined a set or founded one.
type AssemblyOutcome string

const (
	OutcomeJoined  AssemblyOutcome = "joined"
	OutcomeCreated AssemblyOutcome = "created"
)

// AssemblyResult records the decision taken for one ingested photo.
type AssemblyResult struct {
	PhotoID string          `json:"photo_id"`
	SetID   string          `json:"set_id"`
	Outcome AssemblyOutcome `json:"outcome"`
}
