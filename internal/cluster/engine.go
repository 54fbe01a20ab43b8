package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thebtf/photodedup/internal/db"
	"github.com/thebtf/photodedup/internal/metrics"
	"github.com/thebtf/photodedup/pkg/models"
	"github.com/thebtf/photodedup/pkg/similarity"
)

// PhotoDeleter removes photos from the photo library.
type PhotoDeleter interface {
	Delete(ctx context.Context, ids []string) error
}

// Engine is the single writer of the cluster store. Ingest batches, rebuilds,
// resets and user actions are serialized by one lock, so a batch never
// interleaves with another batch or with a rebuild.
type Engine struct {
	store     db.SetStore
	deleter   PhotoDeleter
	assembler *Assembler
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	mu        sync.Mutex
}

// NewEngine creates an engine. A nil deleter disables photo-library deletions.
func NewEngine(store db.SetStore, deleter PhotoDeleter, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:     store,
		deleter:   deleter,
		assembler: NewAssembler(store, cfg, logger, m),
		metrics:   m,
		logger:    logger.With().Str("component", "cluster-engine").Logger(),
	}
}

// Assembler exposes the engine's assembler.
func (e *Engine) Assembler() *Assembler {
	return e.assembler
}

// IngestBatch assigns photos to sets in the given order under the writer lock.
func (e *Engine) IngestBatch(ctx context.Context, photos []models.Photo) ([]models.AssemblyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.assembler.IngestBatch(ctx, photos)
}

// Reset discards every photo and set.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Reset(ctx); err != nil {
		e.metrics.RecordStoreWriteFailure(ctx, "reset")
		return storeWriteError("reset", "store", err)
	}
	return nil
}

// RebuildReport summarizes one full regrouping pass.
type RebuildReport struct {
	RunID      string        `json:"run_id"`
	Photos     int           `json:"photos"`
	Sets       int           `json:"sets"`
	Singletons int           `json:"singletons"`
	Hidden     int           `json:"hidden"`
	Duration   time.Duration `json:"duration_ns"`
}

// Rebuild regroups every stored photo from scratch and replaces all set
// assignments. Photos left out of every multi-member set become singletons so
// incremental assembly keeps seeing them. A rebuilt set keeps Visible=false when
// a set with the same id had been hidden.
func (e *Engine) Rebuild(ctx context.Context) (RebuildReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	report := RebuildReport{RunID: uuid.NewString()}

	photos, err := e.store.GetAllPhotos(ctx)
	if err != nil {
		return report, fmt.Errorf("load photos: %w", err)
	}
	hiddenIDs, err := e.store.HiddenSetIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("load hidden sets: %w", err)
	}
	hidden := make(map[string]bool, len(hiddenIDs))
	for _, id := range hiddenIDs {
		hidden[id] = true
	}

	grouped := similarity.RegroupAll(photos, e.assembler.Matcher())
	singles := similarity.Ungrouped(photos, grouped)

	all := make([]models.SimilarSet, 0, len(grouped)+len(singles))
	for _, s := range grouped {
		if hidden[s.ID] {
			s.Visible = false
			report.Hidden++
		}
		all = append(all, s)
	}
	for _, p := range singles {
		all = append(all, models.NewSingletonSet(p))
	}

	if err := e.store.ReplaceAllSets(ctx, all); err != nil {
		e.metrics.RecordStoreWriteFailure(ctx, "replace_all_sets")
		return report, storeWriteError("rebuild", report.RunID, err)
	}

	report.Photos = len(photos)
	report.Sets = len(grouped)
	report.Singletons = len(singles)
	report.Duration = time.Since(start)
	e.metrics.RecordRebuild(ctx, report.Duration)

	e.logger.Info().
		Str("run_id", report.RunID).
		Int("photos", report.Photos).
		Int("sets", report.Sets).
		Int("singletons", report.Singletons).
		Dur("duration", report.Duration).
		Msg("Rebuild complete")

	return report, nil
}
