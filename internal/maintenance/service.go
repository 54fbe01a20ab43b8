// Package maintenance runs scheduled full regroups of the photo store.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/photodedup/internal/cluster"
)

// Rebuilder regroups every stored photo. cluster.Engine implements it.
type Rebuilder interface {
	Rebuild(ctx context.Context) (cluster.RebuildReport, error)
}

// Optimizer refreshes database statistics. gorm.Store implements it.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Config controls the schedule.
type Config struct {
	// Interval between runs. Zero disables the scheduler.
	Interval time.Duration
	// InitialDelay before the first run.
	InitialDelay time.Duration
}

// Service periodically rebuilds similar sets so photos split across window
// boundaries by incremental assembly are reunited.
type Service struct {
	log        zerolog.Logger
	lastRun    time.Time
	rebuilder  Rebuilder
	optimizer  Optimizer
	lastReport *cluster.RebuildReport
	lastErr    error
	stopCh     chan struct{}
	doneCh     chan struct{}
	cfg        Config
	totalRuns  int64
	failedRuns int64
	mu         sync.Mutex
	running    bool
	stopOnce   sync.Once
}

// NewService creates a maintenance service. optimizer may be nil.
func NewService(rebuilder Rebuilder, optimizer Optimizer, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		rebuilder: rebuilder,
		optimizer: optimizer,
		cfg:       cfg,
		log:       log.With().Str("component", "maintenance").Logger(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the schedule until ctx is done or Stop is called. Call from a goroutine.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if s.cfg.Interval <= 0 {
		s.log.Info().Msg("Scheduled rebuild disabled")
		return
	}

	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("initial_delay", s.cfg.InitialDelay).
		Msg("Starting rebuild scheduler")

	if s.cfg.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(s.cfg.InitialDelay):
		}
	}
	s.RunNow(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Rebuild scheduler stopping (context done)")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Rebuild scheduler stopping (stop signal)")
			return
		case <-ticker.C:
			s.RunNow(ctx)
		}
	}
}

// Stop signals the service to stop.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Wait blocks until Start has returned.
func (s *Service) Wait() {
	<-s.doneCh
}

// RunNow performs one rebuild followed by a database optimize, synchronously.
func (s *Service) RunNow(ctx context.Context) {
	report, err := s.rebuilder.Rebuild(ctx)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.totalRuns++
	s.lastErr = err
	if err != nil {
		s.failedRuns++
	} else {
		s.lastReport = &report
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Msg("Scheduled rebuild failed")
		return
	}

	if s.optimizer != nil {
		if err := s.optimizer.Optimize(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Failed to optimize database")
		}
	}
}

// Stats reports scheduler state.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]any{
		"enabled":     s.cfg.Interval > 0,
		"interval":    s.cfg.Interval.String(),
		"running":     s.running,
		"total_runs":  s.totalRuns,
		"failed_runs": s.failedRuns,
	}
	if !s.lastRun.IsZero() {
		stats["last_run"] = s.lastRun
	}
	if s.lastReport != nil {
		stats["last_report"] = *s.lastReport
	}
	if s.lastErr != nil {
		stats["last_error"] = s.lastErr.Error()
	}
	return stats
}
