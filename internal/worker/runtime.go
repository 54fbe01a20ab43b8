package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm/logger"

	"github.com/thebtf/photodedup/internal/cluster"
	"github.com/thebtf/photodedup/internal/config"
	gormstore "github.com/thebtf/photodedup/internal/db/gorm"
	"github.com/thebtf/photodedup/internal/extractor"
	"github.com/thebtf/photodedup/internal/maintenance"
	"github.com/thebtf/photodedup/internal/metrics"
	"github.com/thebtf/photodedup/internal/notify/redis"
	"github.com/thebtf/photodedup/internal/photosource"
	"github.com/thebtf/photodedup/internal/pipeline"
	"github.com/thebtf/photodedup/pkg/similarity"
)

// Runtime owns every long-lived component built from a Config.
type Runtime struct {
	Store       *gormstore.Store
	Sets        *gormstore.SetStore
	Engine      *cluster.Engine
	Pipeline    *pipeline.Pipeline
	Library     *photosource.Dir
	Extractor   *extractor.Cached
	Maintenance *maintenance.Service
	Metrics     *metrics.Metrics

	// Watcher is nil when library watching is disabled.
	Watcher *photosource.Watcher
	// Publisher is nil when no Redis URL is configured.
	Publisher *redis.Publisher
}

// libraryDeleter removes photos from the library and drops their cached
// neighbor lists.
type libraryDeleter struct {
	dir   *photosource.Dir
	cache *extractor.Cached
}

func (d libraryDeleter) Delete(ctx context.Context, ids []string) error {
	if err := d.dir.Delete(ctx, ids); err != nil {
		return err
	}
	d.cache.Forget(ids...)
	return nil
}

// Build opens the store and wires the grouping engine, the ingestion pipeline
// and the optional watcher and Redis mirror.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Runtime, error) {
	if cfg.LibraryDir == "" {
		return nil, errors.New("library_dir is required")
	}

	assembly, err := clusterConfig(cfg)
	if err != nil {
		return nil, err
	}

	m, err := metrics.New(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	library, err := photosource.NewDir(cfg.LibraryDir, cfg.TrashDir)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}

	mode, err := extractor.ParseMode(cfg.ExtractorMode)
	if err != nil {
		return nil, err
	}
	var refs *extractor.References
	if cfg.ReferenceFile != "" {
		if refs, err = extractor.LoadReferences(cfg.ReferenceFile); err != nil {
			return nil, fmt.Errorf("load references: %w", err)
		}
	}
	client, err := extractor.NewClient(library, extractor.ClientConfig{
		References:    refs,
		URL:           cfg.ExtractorURL,
		Mode:          mode,
		K:             cfg.NeighborCount,
		ThumbnailSize: cfg.ThumbnailSize,
		Timeout:       cfg.ExtractTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	cached, err := extractor.NewCached(client, cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("init extractor cache: %w", err)
	}

	dbLevel := logger.Silent
	if cfg.LogLevel == "debug" {
		dbLevel = logger.Info
	}
	store, err := gormstore.NewStore(gormstore.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: dbLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	sets := gormstore.NewSetStore(store)

	engine := cluster.NewEngine(sets, libraryDeleter{dir: library, cache: cached}, assembly, log, m)
	pipe := pipeline.New(library, sets, cached, engine, pipeline.Config{
		PageSize:       cfg.PageSize,
		Concurrency:    cfg.Concurrency,
		ExtractTimeout: cfg.ExtractTimeout,
	}, log, m)

	rt := &Runtime{
		Store:     store,
		Sets:      sets,
		Engine:    engine,
		Pipeline:  pipe,
		Library:   library,
		Extractor: cached,
		Metrics:   m,
		Maintenance: maintenance.NewService(engine, store, maintenance.Config{
			Interval:     cfg.RebuildInterval,
			InitialDelay: cfg.RebuildInterval,
		}, log),
	}

	if cfg.WatchLibrary {
		w, err := photosource.NewWatcher(library, photosource.DefaultDebounce)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("init library watcher: %w", err)
		}
		rt.Watcher = w
	}

	if cfg.RedisURL != "" {
		rt.Publisher = redis.NewPublisher(redis.NewPool(cfg.RedisURL), cfg.RedisChannel, log)
	}

	log.Info().
		Str("library", library.Root()).
		Str("db_driver", store.Driver()).
		Str("window", string(assembly.Window)).
		Str("match_mode", string(assembly.MatchMode)).
		Int("threshold", assembly.Threshold).
		Bool("watch", rt.Watcher != nil).
		Bool("redis", rt.Publisher != nil).
		Msg("Runtime initialized")

	return rt, nil
}

func clusterConfig(cfg *config.Config) (cluster.Config, error) {
	out := cluster.DefaultConfig()
	window, err := cluster.ParseWindowMode(cfg.WindowMode)
	if err != nil {
		return out, err
	}
	match, err := similarity.ParseMatchMode(cfg.MatchMode)
	if err != nil {
		return out, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return out, err
	}
	out.Window = window
	out.MatchMode = match
	out.Location = loc
	out.Threshold = cfg.OverlapThreshold
	return out, nil
}

// Bootstrap runs a fresh fetch when the store holds no photos yet. Existing
// review state is kept otherwise.
func (rt *Runtime) Bootstrap(ctx context.Context, log zerolog.Logger) {
	count, err := rt.Sets.CountPhotos(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count photos")
		return
	}
	if count > 0 {
		log.Info().Int64("photos", count).Msg("Resuming from existing store")
		return
	}
	report, err := rt.Pipeline.FreshFetch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Initial fetch failed")
		return
	}
	log.Info().
		Int("fetched", report.Fetched).
		Int("ingested", report.Ingested).
		Dur("duration", report.Duration).
		Msg("Initial fetch complete")
}

// Close releases the watcher, the Redis pool, subscribers and the database.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Maintenance != nil {
		rt.Maintenance.Stop()
	}
	if rt.Watcher != nil {
		if err := rt.Watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop watcher: %w", err))
		}
	}
	if rt.Publisher != nil {
		if err := rt.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	rt.Sets.Close()
	if err := rt.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
