package cluster

import (
	"errors"
	"fmt"

	"github.com/thebtf/photodedup/internal/db"
)

var (
	// ErrStoreWrite marks a failed cluster store write. The batch that hit it is
	// aborted; earlier decisions stay committed and the caller may retry.
	ErrStoreWrite = errors.New("cluster store write failed")

	// ErrSetNotFound is returned by user actions on a set that no longer exists.
	ErrSetNotFound = errors.New("similar set not found")

	// ErrInvalidIndex is returned when a selected member index is out of range.
	ErrInvalidIndex = db.ErrInvalidIndex
)

// SourceDeleteError reports that the photo source refused to delete photos.
// The store is left untouched when this is returned.
type SourceDeleteError struct {
	Err error
	IDs []string
}

func (e *SourceDeleteError) Error() string {
	return fmt.Sprintf("delete %d photos at source: %v", len(e.IDs), e.Err)
}

func (e *SourceDeleteError) Unwrap() error {
	return e.Err
}

func storeWriteError(op, id string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, id, ErrStoreWrite, err)
}
