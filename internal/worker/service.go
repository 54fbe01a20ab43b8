// Package worker provides the HTTP review service for photodedup.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/thebtf/photodedup/internal/config"
	"github.com/thebtf/photodedup/internal/worker/sse"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout is the default timeout for read-only HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxRequestBodySize caps JSON request bodies.
	MaxRequestBodySize = 1 << 20

	// RebuildCooldown is the minimum spacing between HTTP-triggered rebuilds
	// and refreshes.
	RebuildCooldown = 5 * time.Minute
)

// Service is the HTTP front of the grouping engine. The server answers
// /health as soon as it starts; every other route waits for initialization.
type Service struct {
	startTime   time.Time
	initError   error
	ctx         context.Context
	deps        deps
	config      *config.Config
	router      *chi.Mux
	server      *http.Server
	broadcaster *sse.Broadcaster
	auth        *TokenAuth
	limiter     *ExpensiveOperationLimiter
	runtime     *Runtime
	cancel      context.CancelFunc
	version     string
	log         zerolog.Logger
	unsubscribe []func()
	wg          sync.WaitGroup
	initMu      sync.RWMutex
	ready       atomic.Bool
}

// NewService creates the service and starts building the runtime in the
// background.
func NewService(version string, cfg *config.Config, log zerolog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	svc := newService(version, cfg, log)
	go svc.initializeAsync()
	return svc, nil
}

func newService(version string, cfg *config.Config, log zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:     version,
		config:      cfg,
		router:      chi.NewRouter(),
		broadcaster: sse.NewBroadcaster(),
		auth:        NewTokenAuth(cfg.APIToken),
		limiter:     NewExpensiveOperationLimiter(RebuildCooldown),
		log:         log.With().Str("component", "worker").Logger(),
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}

	svc.setupMiddleware()
	svc.setupRoutes()
	return svc
}

// initializeAsync builds the runtime and starts background processing.
func (s *Service) initializeAsync() {
	s.log.Info().Msg("Starting async initialization...")

	if s.config.DBDriver == "sqlite" && s.config.DBPath == config.DBPath() {
		if err := config.EnsureDataDir(); err != nil {
			s.setInitError(fmt.Errorf("ensure data dir: %w", err))
			return
		}
	}

	rt, err := Build(s.ctx, s.config, s.log)
	if err != nil {
		s.setInitError(err)
		return
	}

	s.initMu.Lock()
	s.runtime = rt
	s.initMu.Unlock()

	s.attach(deps{
		queries:     rt.Sets,
		actions:     rt.Engine,
		ingest:      rt.Pipeline,
		photos:      rt.Library,
		health:      rt.Store,
		maintenance: rt.Maintenance,
		cache:       rt.Extractor,
	})
	s.log.Info().Msg("Async initialization complete - service ready")

	s.startBackground(rt)
}

// startBackground relays set changes to SSE clients and Redis, and starts the
// scheduler, the library watcher and the initial fetch.
func (s *Service) startBackground(rt *Runtime) {
	updates, unsub := rt.Sets.Subscribe(s.ctx)
	s.addUnsubscribe(unsub)
	s.goBackground(func() { sse.Relay(s.ctx, s.broadcaster, updates) })

	if rt.Publisher != nil {
		mirror, unsub := rt.Sets.Subscribe(s.ctx)
		s.addUnsubscribe(unsub)
		s.goBackground(func() { rt.Publisher.Run(s.ctx, mirror) })
	}

	s.goBackground(func() { rt.Maintenance.Start(s.ctx) })

	s.goBackground(func() {
		rt.Bootstrap(s.ctx, s.log)

		// Watch after the first page so the fetch and the watcher do not race
		// over the same photos.
		if rt.Watcher == nil {
			return
		}
		if err := rt.Watcher.Start(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to start library watcher")
			return
		}
		s.log.Info().Str("path", rt.Library.Root()).Msg("Library watcher started")
		rt.Pipeline.Watch(s.ctx, rt.Watcher.Changes())
	})
}

func (s *Service) goBackground(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Service) addUnsubscribe(fn func()) {
	s.initMu.Lock()
	s.unsubscribe = append(s.unsubscribe, fn)
	s.initMu.Unlock()
}

// attach installs the handler dependencies and marks the service ready.
func (s *Service) attach(d deps) {
	s.initMu.Lock()
	s.deps = d
	s.initError = nil
	s.initMu.Unlock()
	s.ready.Store(true)
}

func (s *Service) dependencies() deps {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.deps
}

// setInitError records an initialization error.
func (s *Service) setInitError(err error) {
	s.initMu.Lock()
	s.initError = err
	s.initMu.Unlock()
	s.log.Error().Err(err).Msg("Async initialization failed")
}

// GetInitError returns any initialization error.
func (s *Service) GetInitError() error {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.initError
}

// Runtime returns the built runtime, or nil before initialization completes.
func (s *Service) Runtime() *Runtime {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.runtime
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(SecurityHeaders)
	s.router.Use(s.auth.Middleware)
	s.router.Use(MaxBodySize(MaxRequestBodySize))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)

	// SSE works before initialization; the first sets event arrives once ready
	s.router.Get("/api/events", s.broadcaster.HandleSSE)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(DefaultHTTPTimeout))

			r.Get("/api/sets", s.handleListSets)
			r.Get("/api/sets/{id}", s.handleGetSet)
			r.Get("/api/photos/*", s.handlePhoto)
			r.Get("/api/stats", s.handleStats)
		})

		// Mutations run to completion under the engine lock; no request timeout
		r.Group(func(r chi.Router) {
			r.Use(RequireJSONContentType)

			r.Post("/api/sets/{id}/keep", s.handleKeepAll)
			r.Delete("/api/sets/{id}", s.handleRemoveAll)
			r.Post("/api/sets/{id}/remove", s.handleRemoveSelected)
			r.Post("/api/ingest/next", s.handleNextPage)
			r.Post("/api/ingest/refresh", s.handleRefresh)
			r.Post("/api/rebuild", s.handleRebuild)
		})
	})
}

// Handler returns the HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. Initialization continues in the background.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.log.Info().
		Int("port", s.config.Port).
		Bool("auth", s.auth.IsEnabled()).
		Msg("HTTP server started (initialization in progress)")

	return nil
}

// Shutdown stops the server and background work, then releases the runtime.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()

	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	s.initMu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	rt := s.runtime
	s.initMu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}

	if rt != nil && rt.Watcher != nil {
		// Unblocks Watch before waiting on the workers
		_ = rt.Watcher.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for background work: %w", ctx.Err()))
	}

	if rt != nil {
		if err := rt.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.log.Info().Msg("Worker service shutdown complete")
	return errors.Join(errs...)
}
