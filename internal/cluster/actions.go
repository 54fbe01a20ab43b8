package cluster

import (
	"context"
	"fmt"
	"slices"
)

// KeepAll hides a set from the review list. Membership is unchanged.
func (e *Engine) KeepAll(ctx context.Context, setID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok, err := e.store.SetVisible(ctx, setID, false)
	if err != nil {
		e.metrics.RecordStoreWriteFailure(ctx, "set_visible")
		return storeWriteError("keep set", setID, err)
	}
	if !ok {
		return fmt.Errorf("keep set %s: %w", setID, ErrSetNotFound)
	}
	return nil
}

// RemoveAll deletes every member of a set from the photo library and then drops
// the set. If the library refuses, the store is left intact and a
// *SourceDeleteError is returned.
func (e *Engine) RemoveAll(ctx context.Context, setID string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	set, err := e.store.GetSet(ctx, setID)
	if err != nil {
		return nil, fmt.Errorf("load set %s: %w", setID, err)
	}
	if set == nil {
		return nil, fmt.Errorf("remove set %s: %w", setID, ErrSetNotFound)
	}

	ids := slices.Clone(set.MemberIDs)
	if err := e.deleteAtSource(ctx, ids); err != nil {
		return nil, err
	}

	if _, err := e.store.DeleteSet(ctx, setID); err != nil {
		e.metrics.RecordStoreWriteFailure(ctx, "delete_set")
		return nil, storeWriteError("remove set", setID, err)
	}

	e.metrics.RecordRemoved(ctx, "remove_all", len(ids))
	e.logger.Info().Str("set", setID).Int("photos", len(ids)).Msg("Removed set")
	return ids, nil
}

// RemoveSelected deletes the members at the given indices from the photo
// library and then from the set. Indices may repeat and come in any order.
func (e *Engine) RemoveSelected(ctx context.Context, setID string, indices []int) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	set, err := e.store.GetSet(ctx, setID)
	if err != nil {
		return nil, fmt.Errorf("load set %s: %w", setID, err)
	}
	if set == nil {
		return nil, fmt.Errorf("remove members of %s: %w", setID, ErrSetNotFound)
	}

	ids := make([]string, 0, len(indices))
	seen := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= set.Len() {
			return nil, fmt.Errorf("remove members of %s: index %d of %d: %w", setID, i, set.Len(), ErrInvalidIndex)
		}
		if !seen[i] {
			seen[i] = true
			ids = append(ids, set.MemberIDs[i])
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := e.deleteAtSource(ctx, ids); err != nil {
		return nil, err
	}

	removed, err := e.store.DeleteMembers(ctx, setID, indices)
	if err != nil {
		e.metrics.RecordStoreWriteFailure(ctx, "delete_members")
		return nil, storeWriteError("remove members of", setID, err)
	}

	e.metrics.RecordRemoved(ctx, "remove_selected", len(removed))
	e.logger.Info().Str("set", setID).Strs("photos", removed).Msg("Removed selected members")
	return removed, nil
}

func (e *Engine) deleteAtSource(ctx context.Context, ids []string) error {
	if e.deleter == nil || len(ids) == 0 {
		return nil
	}
	if err := e.deleter.Delete(ctx, ids); err != nil {
		e.logger.Warn().Err(err).Strs("photos", ids).Msg("Photo library refused deletion")
		return &SourceDeleteError{IDs: ids, Err: err}
	}
	return nil
}
