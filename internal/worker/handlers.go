package worker

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/photodedup/internal/cluster"
	gormstore "github.com/thebtf/photodedup/internal/db/gorm"
	"github.com/thebtf/photodedup/internal/photosource"
	"github.com/thebtf/photodedup/internal/pipeline"
	"github.com/thebtf/photodedup/pkg/models"
)

// SetQueries is the read side of the review surface.
type SetQueries interface {
	ListSurfacedSets(ctx context.Context) ([]models.SimilarSet, error)
	GetSet(ctx context.Context, setID string) (*models.SimilarSet, error)
	CountPhotos(ctx context.Context) (int64, error)
}

// SetActions applies review decisions. cluster.Engine implements it.
type SetActions interface {
	KeepAll(ctx context.Context, setID string) error
	RemoveAll(ctx context.Context, setID string) ([]string, error)
	RemoveSelected(ctx context.Context, setID string, indices []int) ([]string, error)
	Rebuild(ctx context.Context) (cluster.RebuildReport, error)
}

// Ingestion drives the page pipeline. pipeline.Pipeline implements it.
type Ingestion interface {
	NextPage(ctx context.Context) (pipeline.PageReport, error)
	FreshFetch(ctx context.Context) (pipeline.PageReport, error)
	LastReport() (pipeline.PageReport, bool)
}

// PhotoOpener streams photo bytes from the library.
type PhotoOpener interface {
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// HealthChecker reports database health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) *gormstore.HealthInfo
}

// StatsReporter exposes component statistics.
type StatsReporter interface {
	Stats() map[string]any
}

// deps are the components handlers call into. health, maintenance and cache
// may be nil.
type deps struct {
	queries     SetQueries
	actions     SetActions
	ingest      Ingestion
	photos      PhotoOpener
	health      HealthChecker
	maintenance StatsReporter
	cache       interface{ Len() int }
}

// SetsResponse is the body of GET /api/sets.
type SetsResponse struct {
	Sets   []models.SimilarSet `json:"sets"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// RemoveSelectedRequest is the body of POST /api/sets/{id}/remove.
type RemoveSelectedRequest struct {
	Indices []int `json:"indices"`
}

// RemovedResponse lists the photo ids deleted by a remove action.
type RemovedResponse struct {
	SetID   string   `json:"set_id"`
	Removed []string `json:"removed"`
}

// writeJSON writes data as a JSON response.
func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps engine errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var sourceErr *cluster.SourceDeleteError
	switch {
	case errors.Is(err, cluster.ErrSetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, cluster.ErrInvalidIndex):
		status = http.StatusBadRequest
	case errors.As(err, &sourceErr):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeJSONStatus(w, status, map[string]string{"error": err.Error()})
}

// handleHealth returns 200 immediately, even during init.
// Use /api/ready for full readiness check.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	} else if err := s.GetInitError(); err != nil {
		status = "error"
	}
	writeJSON(w, map[string]any{
		"status":  status,
		"version": s.version,
	})
}

// handleReady returns 200 only when fully initialized, 503 otherwise.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		if err := s.GetInitError(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

// requireReady is middleware that returns 503 if service isn't ready.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			if err := s.GetInitError(); err != nil {
				http.Error(w, "service initialization failed: "+err.Error(), http.StatusInternalServerError)
				return
			}
			http.Error(w, "service initializing", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleListSets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.dependencies().queries.ListSurfacedSets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	limit := ParseLimitParamWithMax(r, DefaultSetsLimit, MaxPaginationLimit)
	offset := ParseOffsetParam(r)
	total := len(sets)
	start := min(offset, total)
	end := min(start+limit, total)

	writeJSON(w, SetsResponse{
		Sets:   sets[start:end],
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Service) handleGetSet(w http.ResponseWriter, r *http.Request) {
	set, err := s.dependencies().queries.GetSet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if set == nil {
		writeError(w, r, cluster.ErrSetNotFound)
		return
	}
	writeJSON(w, set)
}

func (s *Service) handleKeepAll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.dependencies().actions.KeepAll(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"set_id": id, "visible": false})
}

func (s *Service) handleRemoveAll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.dependencies().actions.RemoveAll(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, RemovedResponse{SetID: id, Removed: removed})
}

func (s *Service) handleRemoveSelected(w http.ResponseWriter, r *http.Request) {
	var req RemoveSelectedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Indices) == 0 {
		http.Error(w, "indices must not be empty", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	removed, err := s.dependencies().actions.RemoveSelected(r.Context(), id, req.Indices)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, RemovedResponse{SetID: id, Removed: removed})
}

func (s *Service) handleNextPage(w http.ResponseWriter, r *http.Request) {
	report, err := s.dependencies().ingest.NextPage(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, report)
}

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.allowExpensive(w, "refresh") {
		return
	}
	report, err := s.dependencies().ingest.FreshFetch(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, report)
}

func (s *Service) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if !s.allowExpensive(w, "rebuild") {
		return
	}
	report, err := s.dependencies().actions.Rebuild(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, report)
}

func (s *Service) allowExpensive(w http.ResponseWriter, op string) bool {
	if s.limiter.Allow(op) {
		return true
	}
	w.Header().Set("Retry-After", formatSeconds(s.limiter.Remaining(op)))
	http.Error(w, op+" is cooling down", http.StatusTooManyRequests)
	return false
}

func formatSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	return strconv.Itoa(max(secs, 1))
}

// handlePhoto streams a library photo by id.
func (s *Service) handlePhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	rc, err := s.dependencies().photos.Open(r.Context(), id)
	switch {
	case errors.Is(err, photosource.ErrOutsideLibrary):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "photo not found", http.StatusNotFound)
		return
	case err != nil:
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(id)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, rc); err != nil {
		log.Debug().Err(err).Str("photo", id).Msg("Photo stream interrupted")
	}
}

// handleStats reports store, pipeline and background worker state.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	d := s.dependencies()
	ctx := r.Context()

	photos, err := d.queries.CountPhotos(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sets, err := d.queries.ListSurfacedSets(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stats := map[string]any{
		"version":       s.version,
		"uptime":        time.Since(s.startTime).Round(time.Second).String(),
		"photos":        photos,
		"surfaced_sets": len(sets),
		"sse_clients":   s.broadcaster.ClientCount(),
	}
	if report, ok := d.ingest.LastReport(); ok {
		stats["last_page"] = report
	}
	if d.maintenance != nil {
		stats["maintenance"] = d.maintenance.Stats()
	}
	if d.health != nil {
		stats["database"] = d.health.HealthCheck(ctx)
	}
	if d.cache != nil {
		stats["extractor_cache"] = d.cache.Len()
	}
	writeJSON(w, stats)
}
