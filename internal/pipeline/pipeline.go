// Package pipeline feeds pages of library photos through neighbor extraction
// into the set assembler.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/photodedup/internal/extractor"
	"github.com/thebtf/photodedup/internal/metrics"
	"github.com/thebtf/photodedup/pkg/models"
)

const (
	// DefaultPageSize is the number of library photos fetched per page.
	DefaultPageSize = 50
	// DefaultConcurrency bounds in-flight extractions per page.
	DefaultConcurrency = 8
	// DefaultExtractTimeout bounds a single extraction.
	DefaultExtractTimeout = 30 * time.Second
)

// Source lists library photos page by page.
type Source interface {
	FetchPage(ctx context.Context, offset, limit int) ([]models.PhotoStub, error)
}

// Store is the read side the pipeline needs.
type Store interface {
	Exists(ctx context.Context, photoID string) (bool, error)
	CountPhotos(ctx context.Context) (int64, error)
}

// Ingester commits photos to sets. cluster.Engine implements it.
type Ingester interface {
	IngestBatch(ctx context.Context, photos []models.Photo) ([]models.AssemblyResult, error)
	Reset(ctx context.Context) error
}

// Config controls paging and extraction fan-out.
type Config struct {
	PageSize       int
	Concurrency    int
	ExtractTimeout time.Duration
}

// ExtractionFailure records a photo whose neighbors could not be computed.
// The photo is skipped; the rest of its page proceeds.
type ExtractionFailure struct {
	Err     error  `json:"-"`
	PhotoID string `json:"photo_id"`
	Reason  string `json:"reason"`
}

func (f ExtractionFailure) Error() string {
	return fmt.Sprintf("extract %s: %v", f.PhotoID, f.Err)
}

func (f ExtractionFailure) Unwrap() error { return f.Err }

// PageReport describes one processed page.
type PageReport struct {
	BatchID    string                  `json:"batch_id"`
	Results    []models.AssemblyResult `json:"results"`
	Failures   []ExtractionFailure     `json:"failures"`
	Offset     int                     `json:"offset"`
	Fetched    int                     `json:"fetched"`
	Skipped    int                     `json:"skipped"`
	Ingested   int                     `json:"ingested"`
	Duration   time.Duration           `json:"duration_ns"`
	Incomplete bool                    `json:"incomplete,omitempty"`
}

// Pipeline runs fetch, extract and assemble for pages of photos.
type Pipeline struct {
	source    Source
	store     Store
	extractor extractor.Extractor
	ingester  Ingester
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	cfg       Config

	// last holds the most recent report for status endpoints.
	mu   sync.Mutex
	last *PageReport
}

// New creates a pipeline.
func New(source Source, store Store, ex extractor.Extractor, ingester Ingester, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Pipeline {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = DefaultExtractTimeout
	}
	return &Pipeline{
		source:    source,
		store:     store,
		extractor: ex,
		ingester:  ingester,
		metrics:   m,
		logger:    logger.With().Str("component", "pipeline").Logger(),
		cfg:       cfg,
	}
}

// LastReport returns the most recent page report, if any.
func (p *Pipeline) LastReport() (PageReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return PageReport{}, false
	}
	return *p.last, true
}

// NextPage fetches the page following the photos already stored. Nothing
// happens while the store is empty; the first page comes from FreshFetch.
func (p *Pipeline) NextPage(ctx context.Context) (PageReport, error) {
	count, err := p.store.CountPhotos(ctx)
	if err != nil {
		return PageReport{}, fmt.Errorf("count photos: %w", err)
	}
	if count == 0 {
		p.logger.Debug().Msg("Store empty, skipping pagination")
		return PageReport{BatchID: uuid.NewString()}, nil
	}
	return p.fetch(ctx, int(count))
}

// FreshFetch discards every stored photo and set and processes the first page.
func (p *Pipeline) FreshFetch(ctx context.Context) (PageReport, error) {
	if err := p.ingester.Reset(ctx); err != nil {
		return PageReport{}, err
	}
	return p.fetch(ctx, 0)
}

func (p *Pipeline) fetch(ctx context.Context, offset int) (PageReport, error) {
	stubs, err := p.source.FetchPage(ctx, offset, p.cfg.PageSize)
	if err != nil {
		return PageReport{}, fmt.Errorf("fetch page at %d: %w", offset, err)
	}
	report, err := p.OnNewPage(ctx, stubs)
	report.Offset = offset
	return report, err
}

// OnNewPage extracts and ingests one page of photos.
//
// Photos already stored and repeated ids are dropped. The rest are extracted
// in parallel; failures are reported, not returned. Extracted photos are
// sorted by (timestamp, id) and ingested as one batch. Only a store failure
// makes the page fail.
func (p *Pipeline) OnNewPage(ctx context.Context, stubs []models.PhotoStub) (PageReport, error) {
	start := time.Now()
	report := PageReport{
		BatchID:  uuid.NewString(),
		Fetched:  len(stubs),
		Results:  []models.AssemblyResult{},
		Failures: []ExtractionFailure{},
	}
	log := p.logger.With().Str("batch", report.BatchID).Logger()

	fresh, err := p.filterNew(ctx, stubs)
	if err != nil {
		return report, err
	}
	report.Skipped = len(stubs) - len(fresh)

	photos, failures := p.extractAll(ctx, fresh)
	report.Failures = failures
	if len(failures) > 0 {
		p.metrics.RecordExtractionFailures(ctx, len(failures))
		for _, f := range failures {
			log.Warn().Err(f.Err).Str("photo", f.PhotoID).Msg("Extraction failed")
		}
	}

	models.SortPhotos(photos)

	results, err := p.ingester.IngestBatch(ctx, photos)
	report.Results = append(report.Results, results...)
	report.Ingested = len(results)
	report.Duration = time.Since(start)
	if err != nil {
		report.Incomplete = true
		log.Error().Err(err).Int("ingested", len(results)).Int("photos", len(photos)).Msg("Batch aborted")
		p.remember(report)
		return report, err
	}

	p.metrics.RecordPage(ctx, report.Duration)
	p.remember(report)

	log.Info().
		Int("fetched", report.Fetched).
		Int("skipped", report.Skipped).
		Int("ingested", report.Ingested).
		Int("failed", len(report.Failures)).
		Dur("duration", report.Duration).
		Msg("Page processed")

	return report, nil
}

func (p *Pipeline) filterNew(ctx context.Context, stubs []models.PhotoStub) ([]models.PhotoStub, error) {
	seen := make(map[string]bool, len(stubs))
	out := make([]models.PhotoStub, 0, len(stubs))
	for _, s := range stubs {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true

		exists, err := p.store.Exists(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("check photo %s: %w", s.ID, err)
		}
		if !exists {
			out = append(out, s)
		}
	}
	return out, nil
}

// extractAll runs one extraction per stub, at most Concurrency at a time, and
// waits for all of them. Output follows stub order.
func (p *Pipeline) extractAll(ctx context.Context, stubs []models.PhotoStub) ([]models.Photo, []ExtractionFailure) {
	neighbors := make([][]int, len(stubs))
	errs := make([]error, len(stubs))

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, s := range stubs {
		i, s := i, s
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
			defer cancel()
			neighbors[i], errs[i] = p.extractor.Extract(reqCtx, s)
			return nil
		})
	}
	_ = g.Wait()

	photos := make([]models.Photo, 0, len(stubs))
	var failures []ExtractionFailure
	for i, s := range stubs {
		if errs[i] != nil {
			failures = append(failures, ExtractionFailure{PhotoID: s.ID, Err: errs[i], Reason: errs[i].Error()})
			continue
		}
		photos = append(photos, models.NewPhoto(s, neighbors[i]))
	}
	if failures == nil {
		failures = []ExtractionFailure{}
	}
	return photos, failures
}

func (p *Pipeline) remember(r PageReport) {
	p.mu.Lock()
	p.last = &r
	p.mu.Unlock()
}

// Watch runs NextPage for every notification on changes until ctx is done or
// changes is closed. Errors are logged and watching continues.
func (p *Pipeline) Watch(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if _, err := p.NextPage(ctx); err != nil {
				p.logger.Error().Err(err).Msg("Library change processing failed")
			}
		}
	}
}
