package gorm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/photodedup/internal/db"
	"github.com/thebtf/photodedup/internal/notify"
	"github.com/thebtf/photodedup/pkg/models"
)

var _ db.SetStore = (*SetStore)(nil)

// SetStore provides photo and similar-set operations using GORM.
// Every successful write republishes the surfaced sets to subscribers.
type SetStore struct {
	store *Store
	db    *gorm.DB
	hub   *notify.Hub[[]models.SimilarSet]
}

// NewSetStore creates a new set store.
func NewSetStore(store *Store) *SetStore {
	return &SetStore{
		store: store,
		db:    store.DB,
		hub:   notify.NewHub[[]models.SimilarSet](),
	}
}

// Close releases every subscriber.
func (s *SetStore) Close() {
	s.hub.Close()
}

// Exists reports whether a photo id has been persisted.
func (s *SetStore) Exists(ctx context.Context, photoID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Photo{}).
		Where("id = ?", photoID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check photo %s: %w", photoID, err)
	}
	return count > 0, nil
}

// CountPhotos returns the number of persisted photos.
func (s *SetStore) CountPhotos(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Photo{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return count, nil
}

// GetSet returns a set with its members, or nil if it does not exist.
func (s *SetStore) GetSet(ctx context.Context, setID string) (*models.SimilarSet, error) {
	var row SimilarSet
	err := s.db.WithContext(ctx).Where("id = ?", setID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get set %s: %w", setID, err)
	}

	sets, err := s.assemble(s.db.WithContext(ctx), []SimilarSet{row})
	if err != nil {
		return nil, err
	}
	return &sets[0], nil
}

// GetSetsInWindow returns the sets founded inside the window, newest first.
// Ties on timestamp are broken by id so the order is stable.
func (s *SetStore) GetSetsInWindow(ctx context.Context, w models.Window) ([]models.SimilarSet, error) {
	start, end := w.Bounds()

	var rows []SimilarSet
	err := s.db.WithContext(ctx).
		Where("timestamp_epoch >= ? AND timestamp_epoch < ?", toEpoch(start), toEpoch(end)).
		Order("timestamp_epoch DESC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get sets in window: %w", err)
	}
	return s.assemble(s.db.WithContext(ctx), rows)
}

// GetAllPhotos returns every persisted photo ordered by (timestamp, id).
func (s *SetStore) GetAllPhotos(ctx context.Context) ([]models.Photo, error) {
	var rows []Photo
	err := s.db.WithContext(ctx).
		Order("timestamp_epoch ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get all photos: %w", err)
	}

	photos := make([]models.Photo, 0, len(rows))
	for _, r := range rows {
		photos = append(photos, r.toModel())
	}
	return photos, nil
}

// ListSurfacedSets returns the visible sets with more than one member, newest first.
func (s *SetStore) ListSurfacedSets(ctx context.Context) ([]models.SimilarSet, error) {
	var rows []SimilarSet
	err := s.db.WithContext(ctx).
		Where("visible = ? AND member_count > ?", true, 1).
		Order("timestamp_epoch DESC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list surfaced sets: %w", err)
	}
	return s.assemble(s.db.WithContext(ctx), rows)
}

// HiddenSetIDs returns the ids of sets the user chose to keep.
func (s *SetStore) HiddenSetIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&SimilarSet{}).
		Where("visible = ?", false).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list hidden sets: %w", err)
	}
	return ids, nil
}

// UpsertSet writes the set header and its full ordered membership.
// Photos that move in from another set are detached from it; photos no longer
// listed are removed.
func (s *SetStore) UpsertSet(ctx context.Context, set *models.SimilarSet) error {
	members, err := membersOf(set)
	if err != nil {
		return err
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}

	err = s.store.TransactionWithTimeout(ctx, DefaultQueryTimeout, "upsert_set", func(tx *gorm.DB) error {
		// Sets losing a photo to this one need their counts fixed afterwards
		var previous []string
		if err := tx.Model(&Photo{}).
			Where("id IN ? AND set_id <> ?", ids, set.ID).
			Distinct().
			Pluck("set_id", &previous).Error; err != nil {
			return err
		}

		header := SimilarSet{
			ID:             set.ID,
			TimestampEpoch: toEpoch(set.Timestamp),
			Visible:        set.Visible,
			MemberCount:    len(members),
			UpdatedAtEpoch: time.Now().UnixMilli(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"timestamp_epoch", "visible", "member_count", "updated_at_epoch"}),
		}).Create(&header).Error; err != nil {
			return err
		}

		if err := tx.Where("set_id = ? AND id NOT IN ?", set.ID, ids).Delete(&Photo{}).Error; err != nil {
			return err
		}

		rows := make([]Photo, len(members))
		for i, m := range members {
			rows[i] = photoRow(m, set.ID, i)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"set_id", "position", "neighbor_ids", "timestamp_epoch"}),
		}).Create(&rows).Error; err != nil {
			return err
		}

		return refreshSets(tx, previous)
	})
	if err != nil {
		return fmt.Errorf("upsert set %s: %w", set.ID, err)
	}

	s.publish(ctx)
	return nil
}

// SetVisible changes only the visibility flag. It reports false if the set is missing.
func (s *SetStore) SetVisible(ctx context.Context, setID string, visible bool) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&SimilarSet{}).
		Where("id = ?", setID).
		Updates(map[string]any{
			"visible":          visible,
			"updated_at_epoch": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("set visibility of %s: %w", setID, result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	s.publish(ctx)
	return true, nil
}

// DeleteSet removes a set and all of its photos. It reports false if the set is missing.
func (s *SetStore) DeleteSet(ctx context.Context, setID string) (bool, error) {
	var deleted int64
	err := s.store.TransactionWithTimeout(ctx, DefaultQueryTimeout, "delete_set", func(tx *gorm.DB) error {
		if err := tx.Where("set_id = ?", setID).Delete(&Photo{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", setID).Delete(&SimilarSet{})
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return false, fmt.Errorf("delete set %s: %w", setID, err)
	}
	if deleted == 0 {
		return false, nil
	}

	s.publish(ctx)
	return true, nil
}

// DeleteMembers removes the members at the given indices and compacts the rest.
// A set left without members is deleted. A missing set yields (nil, nil).
func (s *SetStore) DeleteMembers(ctx context.Context, setID string, indices []int) ([]string, error) {
	var removed []string
	err := s.store.TransactionWithTimeout(ctx, DefaultQueryTimeout, "delete_members", func(tx *gorm.DB) error {
		var header SimilarSet
		err := tx.Where("id = ?", setID).First(&header).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var members []Photo
		if err := tx.Where("set_id = ?", setID).Order("position ASC").Find(&members).Error; err != nil {
			return err
		}

		order, err := normalizeIndices(indices, len(members))
		if err != nil {
			return err
		}
		if len(order) == 0 {
			return nil
		}

		gone := make(map[string]bool, len(order))
		for _, i := range order {
			removed = append(removed, members[i].ID)
			gone[members[i].ID] = true
		}
		if err := tx.Where("id IN ?", removed).Delete(&Photo{}).Error; err != nil {
			return err
		}

		position := 0
		for _, m := range members {
			if gone[m.ID] {
				continue
			}
			if m.Position != position {
				if err := tx.Model(&Photo{}).Where("id = ?", m.ID).Update("position", position).Error; err != nil {
					return err
				}
			}
			position++
		}

		return refreshSets(tx, []string{setID})
	})
	if err != nil {
		return nil, fmt.Errorf("delete members of %s: %w", setID, err)
	}

	if len(removed) > 0 {
		s.publish(ctx)
	}
	return removed, nil
}

// ReplaceAllSets discards every set assignment and writes the given sets.
// A photo may appear in at most one set.
func (s *SetStore) ReplaceAllSets(ctx context.Context, sets []models.SimilarSet) error {
	headers := make([]SimilarSet, 0, len(sets))
	photos := make([]Photo, 0, len(sets))
	owner := make(map[string]string)
	now := time.Now().UnixMilli()

	for i := range sets {
		members, err := membersOf(&sets[i])
		if err != nil {
			return err
		}
		headers = append(headers, SimilarSet{
			ID:             sets[i].ID,
			TimestampEpoch: toEpoch(sets[i].Timestamp),
			Visible:        sets[i].Visible,
			MemberCount:    len(members),
			UpdatedAtEpoch: now,
		})
		for pos, m := range members {
			if prev, ok := owner[m.ID]; ok {
				return fmt.Errorf("photo %s assigned to both %s and %s", m.ID, prev, sets[i].ID)
			}
			owner[m.ID] = sets[i].ID
			photos = append(photos, photoRow(m, sets[i].ID, pos))
		}
	}

	err := s.store.TransactionWithTimeout(ctx, SlowQueryTimeout, "replace_all_sets", func(tx *gorm.DB) error {
		if err := deleteAll(tx); err != nil {
			return err
		}
		if len(headers) > 0 {
			if err := tx.CreateInBatches(headers, 200).Error; err != nil {
				return err
			}
		}
		if len(photos) > 0 {
			if err := tx.CreateInBatches(photos, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace all sets: %w", err)
	}

	s.publish(ctx)
	return nil
}

// Reset deletes every photo and set.
func (s *SetStore) Reset(ctx context.Context) error {
	err := s.store.TransactionWithTimeout(ctx, SlowQueryTimeout, "reset", deleteAll)
	if err != nil {
		return fmt.Errorf("reset store: %w", err)
	}

	s.publish(ctx)
	return nil
}

// Subscribe streams the surfaced sets. The current state is delivered first.
// The subscription ends when ctx is done or the returned func is called.
func (s *SetStore) Subscribe(ctx context.Context) (<-chan []models.SimilarSet, func()) {
	ch, cancel := s.hub.Subscribe()
	if _, ok := s.hub.Latest(); !ok {
		s.publish(ctx)
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return ch, stop
}

// publish pushes the current surfaced sets to subscribers.
func (s *SetStore) publish(ctx context.Context) {
	sets, err := s.ListSurfacedSets(context.WithoutCancel(ctx))
	if err != nil {
		log.Error().Err(err).Msg("Failed to load surfaced sets for subscribers")
		return
	}
	s.hub.Publish(sets)
}

// assemble resolves the members of each set header, keeping header order.
func (s *SetStore) assemble(tx *gorm.DB, rows []SimilarSet) ([]models.SimilarSet, error) {
	if len(rows) == 0 {
		return []models.SimilarSet{}, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	bySet := make(map[string][]Photo, len(rows))
	for _, chunk := range chunkIDs(ids, maxInClause) {
		var members []Photo
		if err := tx.Where("set_id IN ?", chunk).
			Order("set_id ASC, position ASC").
			Find(&members).Error; err != nil {
			return nil, fmt.Errorf("load members: %w", err)
		}
		for _, m := range members {
			bySet[m.SetID] = append(bySet[m.SetID], m)
		}
	}

	out := make([]models.SimilarSet, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel(bySet[r.ID]))
	}
	return out, nil
}

// refreshSets recomputes member counts for the given sets and drops empty ones.
func refreshSets(tx *gorm.DB, setIDs []string) error {
	for _, id := range setIDs {
		var count int64
		if err := tx.Model(&Photo{}).Where("set_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			if err := tx.Where("id = ?", id).Delete(&SimilarSet{}).Error; err != nil {
				return err
			}
			continue
		}
		if err := tx.Model(&SimilarSet{}).Where("id = ?", id).Updates(map[string]any{
			"member_count":     count,
			"updated_at_epoch": time.Now().UnixMilli(),
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

func deleteAll(tx *gorm.DB) error {
	global := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
	if err := global.Delete(&Photo{}).Error; err != nil {
		return err
	}
	return global.Delete(&SimilarSet{}).Error
}
