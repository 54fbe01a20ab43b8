// Package db defines the cluster store contract for photodedup.
package db

import (
	"context"
	"errors"

	"github.com/thebtf/photodedup/pkg/models"
)

// ErrInvalidIndex is returned when a member index is outside the set.
var ErrInvalidIndex = errors.New("member index out of range")

// SetReader defines read operations for photos and similar sets.
// Missing rows yield empty results, never an error.
type SetReader interface {
	Exists(ctx context.Context, photoID string) (bool, error)
	CountPhotos(ctx context.Context) (int64, error)
	GetSet(ctx context.Context, setID string) (*models.SimilarSet, error)
	GetSetsInWindow(ctx context.Context, w models.Window) ([]models.SimilarSet, error)
	GetAllPhotos(ctx context.Context) ([]models.Photo, error)
	ListSurfacedSets(ctx context.Context) ([]models.SimilarSet, error)
	HiddenSetIDs(ctx context.Context) ([]string, error)
}

// SetWriter defines write operations for photos and similar sets.
// Mutations on a missing set return false (or nil ids) and no error.
type SetWriter interface {
	// UpsertSet writes the set and its full ordered membership in one transaction.
	UpsertSet(ctx context.Context, set *models.SimilarSet) error
	SetVisible(ctx context.Context, setID string, visible bool) (bool, error)
	DeleteSet(ctx context.Context, setID string) (bool, error)
	// DeleteMembers removes the members at the given indices and returns their photo ids.
	DeleteMembers(ctx context.Context, setID string, indices []int) ([]string, error)
	// ReplaceAllSets swaps every set assignment for the given sets in one transaction.
	ReplaceAllSets(ctx context.Context, sets []models.SimilarSet) error
	Reset(ctx context.Context) error
}

// SetStore combines read and write operations with a change stream.
type SetStore interface {
	SetReader
	SetWriter

	// Subscribe streams the surfaced sets: once on subscription and again after
	// every write that changes them.
	Subscribe(ctx context.Context) (<-chan []models.SimilarSet, func())
}
