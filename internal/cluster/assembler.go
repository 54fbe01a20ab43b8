// Package cluster assembles photos into similar sets and applies user actions to them.
package cluster

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/photodedup/internal/metrics"
	"github.com/thebtf/photodedup/pkg/models"
	"github.com/thebtf/photodedup/pkg/similarity"
)

// AssemblyStore is the subset of store methods needed by the assembler.
type AssemblyStore interface {
	GetSetsInWindow(ctx context.Context, w models.Window) ([]models.SimilarSet, error)
	UpsertSet(ctx context.Context, set *models.SimilarSet) error
}

// Config controls matching and windowing.
type Config struct {
	// Location is the zone calendar windows are computed in (default time.Local).
	Location  *time.Location
	MatchMode similarity.MatchMode
	Window    WindowMode
	Threshold int
}

// DefaultConfig returns the default assembly configuration.
func DefaultConfig() Config {
	return Config{
		Threshold: similarity.DefaultOverlapThreshold,
		MatchMode: similarity.MatchRepresentative,
		Window:    WindowHour,
		Location:  time.Local,
	}
}

// Assembler places each new photo into the first matching set of its time
// window, or founds a singleton set for it.
type Assembler struct {
	store   AssemblyStore
	metrics *metrics.Metrics
	loc     *time.Location
	logger  zerolog.Logger
	matcher similarity.Matcher
	window  WindowMode
}

// NewAssembler creates an assembler writing through store.
func NewAssembler(store AssemblyStore, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Assembler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Window == "" {
		cfg.Window = WindowHour
	}
	return &Assembler{
		store:   store,
		metrics: m,
		loc:     cfg.Location,
		logger:  logger.With().Str("component", "assembler").Logger(),
		matcher: similarity.NewMatcher(cfg.MatchMode, cfg.Threshold),
		window:  cfg.Window,
	}
}

// WindowFor returns the candidate window of a timestamp.
func (a *Assembler) WindowFor(t time.Time) models.Window {
	return windowFor(t, a.window, a.loc)
}

// Matcher returns the matcher used for candidate tests.
func (a *Assembler) Matcher() similarity.Matcher {
	return a.matcher
}

// Ingest assigns one photo given the candidate sets of its window.
//
// Candidates are tried newest founding timestamp first (ties by id) and the
// first set whose members the matcher accepts wins. Exactly one set is written
// back. A photo already present in a candidate is reported as joined without a
// write.
func (a *Assembler) Ingest(ctx context.Context, photo models.Photo, candidates []models.SimilarSet) (models.AssemblyResult, error) {
	ordered := slices.Clone(candidates)
	slices.SortStableFunc(ordered, func(x, y models.SimilarSet) int {
		if c := y.Timestamp.Compare(x.Timestamp); c != 0 {
			return c
		}
		switch {
		case x.ID < y.ID:
			return -1
		case x.ID > y.ID:
			return 1
		}
		return 0
	})

	for i := range ordered {
		if ordered[i].Contains(photo.ID) {
			return models.AssemblyResult{PhotoID: photo.ID, SetID: ordered[i].ID, Outcome: models.OutcomeJoined}, nil
		}
	}

	for i := range ordered {
		set := &ordered[i]
		if !a.matcher.Accepts(photo.NeighborIDs, neighborLists(set)) {
			continue
		}

		shared := similarity.OverlapCount(photo.NeighborIDs, set.Members[0].NeighborIDs)

		// Copy the member slices so the caller's candidates are never mutated
		set.MemberIDs = slices.Clone(set.MemberIDs)
		set.Members = slices.Clone(set.Members)
		set.Add(photo)
		if err := a.store.UpsertSet(ctx, set); err != nil {
			a.metrics.RecordStoreWriteFailure(ctx, "upsert_set")
			return models.AssemblyResult{}, storeWriteError("join set", set.ID, err)
		}

		a.metrics.RecordAssembly(ctx, string(models.OutcomeJoined))
		a.logger.Debug().
			Str("photo", photo.ID).
			Str("set", set.ID).
			Int("members", set.Len()).
			Int("shared_neighbors", shared).
			Msg("Photo joined set")
		return models.AssemblyResult{PhotoID: photo.ID, SetID: set.ID, Outcome: models.OutcomeJoined}, nil
	}

	set := models.NewSingletonSet(photo)
	if err := a.store.UpsertSet(ctx, &set); err != nil {
		a.metrics.RecordStoreWriteFailure(ctx, "upsert_set")
		return models.AssemblyResult{}, storeWriteError("create set", set.ID, err)
	}

	a.metrics.RecordAssembly(ctx, string(models.OutcomeCreated))
	return models.AssemblyResult{PhotoID: photo.ID, SetID: set.ID, Outcome: models.OutcomeCreated}, nil
}

// IngestBatch ingests photos in the given order. Candidates are re-read from the
// store for every photo, so later photos see sets written for earlier ones.
// On error the results gathered so far are returned with it.
func (a *Assembler) IngestBatch(ctx context.Context, photos []models.Photo) ([]models.AssemblyResult, error) {
	results := make([]models.AssemblyResult, 0, len(photos))

	for _, p := range photos {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		candidates, err := a.store.GetSetsInWindow(ctx, a.WindowFor(p.Timestamp))
		if err != nil {
			return results, fmt.Errorf("load candidates for %s: %w", p.ID, err)
		}

		result, err := a.Ingest(ctx, p, candidates)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}

	return results, nil
}

func neighborLists(set *models.SimilarSet) [][]int {
	lists := make([][]int, len(set.Members))
	for i, m := range set.Members {
		lists[i] = m.NeighborIDs
	}
	return lists
}
