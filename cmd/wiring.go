package cmd

import (
	"context"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/cache"
	"example.com/backstage/services/telemetry/internal/catalog"
	"example.com/backstage/services/telemetry/internal/coordinator"
	"example.com/backstage/services/telemetry/internal/database"
	"example.com/backstage/services/telemetry/internal/history"
	"example.com/backstage/services/telemetry/internal/metrics"
	"example.com/backstage/services/telemetry/internal/scheduler"
	"example.com/backstage/services/telemetry/internal/source"
	"example.com/backstage/services/telemetry/internal/store"
	"example.com/backstage/services/telemetry/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// pipeline is the wired coordinator plus everything that must be closed with it
type pipeline struct {
	coordinator *coordinator.Coordinator
	metrics     *metrics.Metrics
	tracer      tracing.Tracer
	model       catalog.ModelQuery
	closers     []func() error
}

func (p *pipeline) Close() {
	if err := p.coordinator.Dispose(); err != nil {
		log.Error().Err(err).Msg("Failed to dispose coordinator")
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	p.tracer.Close()
}

var newTracer = tracing.NewTracer

// buildPipeline wires the coordinator from configuration and initializes it against the model file.
// Resources opened before a failure are released.
func buildPipeline(ctx context.Context, cfg config.Config) (_ *pipeline, err error) {
	p := &pipeline{metrics: metrics.NewMetrics()}

	tracer, err := newTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = tracing.Disabled()
	}
	p.tracer = tracer
	defer func() {
		if err != nil {
			p.closeResources()
		}
	}()

	src, err := source.New(cfg)
	if err != nil {
		return nil, err
	}

	specs := catalog.DefaultSpecs()
	if cfg.Catalog.SpecFile != "" {
		if specs, err = catalog.LoadSpecTable(cfg.Catalog.SpecFile); err != nil {
			return nil, err
		}
	}

	model, err := catalog.LoadFileModel(cfg.Catalog.ModelFile)
	if err != nil {
		return nil, err
	}
	p.model = model

	kv, err := p.openKV(cfg)
	if err != nil {
		return nil, err
	}

	p.coordinator = coordinator.New(coordinator.Options{
		Source:    src,
		KV:        kv,
		Namespace: cfg.Store.Namespace,
		Prefix:    cfg.Catalog.Prefix,
		Specs:     specs,
		Sync: scheduler.Config{
			PollInterval: cfg.Sync.PollInterval,
			BatchSize:    cfg.Sync.BatchSize,
		},
		History: history.NewStore(cfg.History.MaxPoints),
		Metrics: p.metrics,
		Tracer:  tracer,
	})

	if err = p.coordinator.Initialize(ctx, model); err != nil {
		return nil, errors.Wrap(err, "failed to initialize coordinator")
	}
	return p, nil
}

// openKV returns the persistence backend for the property store. nil selects memory only.
func (p *pipeline) openKV(cfg config.Config) (store.KV, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		redisCache, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing with memory only")
			return nil, nil
		}
		p.closers = append(p.closers, redisCache.Close)
		return redisCache, nil
	case config.BackendPostgres, config.BackendSQLite:
		db, err := database.Connect(cfg.Store)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, db.Close)
		return db, nil
	default:
		return nil, nil
	}
}

func (p *pipeline) closeResources() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		_ = p.closers[i]()
	}
	p.tracer.Close()
}
