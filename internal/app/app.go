package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	httpserver "github.com/yungbote/docingest-backend/internal/http"
	httpH "github.com/yungbote/docingest-backend/internal/http/handlers"
	httpMW "github.com/yungbote/docingest-backend/internal/http/middleware"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/ingestion/indexer"
	"github.com/yungbote/docingest-backend/internal/ingestion/manifest"
	"github.com/yungbote/docingest-backend/internal/ingestion/pipeline"
	"github.com/yungbote/docingest-backend/internal/ingestion/source"
	"github.com/yungbote/docingest-backend/internal/observability"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
	"github.com/yungbote/docingest-backend/internal/search"
	"github.com/yungbote/docingest-backend/internal/temporalx"
	"github.com/yungbote/docingest-backend/internal/temporalx/ingestcycle"
	"github.com/yungbote/docingest-backend/internal/temporalx/temporalworker"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *gorm.DB
	States   contentrepo.StateStore
	Store    *contentstore.Store
	Manifest *manifest.Manifest
	Index    indexer.Index
	Runner   *pipeline.Runner
	Search   *search.Service
	Metrics  *observability.Metrics
	Redis    goredis.UniversalClient

	closers []func() error
}

// Overrides replaces collaborators that New would otherwise build from config.
type Overrides struct {
	DB      *gorm.DB
	Lister  source.Lister
	Backend contentstore.Backend
	Index   indexer.Index
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	return NewWith(ctx, log, cfg, Overrides{})
}

func NewWith(ctx context.Context, log *logger.Logger, cfg Config, ov Overrides) (_ *App, err error) {
	a := &App{Log: log, Cfg: cfg, Metrics: observability.Init(log)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.DB = ov.DB
	if a.DB == nil {
		if a.DB, err = openDatabase(log, cfg); err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		if sqlDB, derr := a.DB.DB(); derr == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
	}
	a.States = contentrepo.NewStateStore(a.DB, log)

	backend := ov.Backend
	if backend == nil {
		var closeBackend func() error
		if backend, closeBackend, err = resolveContentBackend(ctx, log, cfg); err != nil {
			return nil, err
		}
		if closeBackend != nil {
			a.closers = append(a.closers, closeBackend)
		}
	}
	a.Store = contentstore.New(backend, log)

	snap, rdb, err := resolveManifestSnapshot(ctx, log, cfg, backend)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
	}
	a.Manifest = manifest.New(snap, log)
	if err := a.Manifest.LoadOrRebuild(ctx, a.States); err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	a.Index = ov.Index
	if a.Index == nil {
		if a.Index, err = resolveIndex(ctx, log, cfg); err != nil {
			return nil, err
		}
	}

	lister := ov.Lister
	if lister == nil {
		if lister, err = resolveLister(ctx, log, cfg); err != nil {
			return nil, err
		}
	}

	ex, rules, exClosers, err := buildExtractor(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, exClosers...)
	processor := pipeline.NewProcessor(log, a.Store, ex, rules)

	// A nil *Metrics is a valid observer.
	obs := pipeline.Observer(a.Metrics)
	a.Runner = pipeline.NewRunner(pipeline.RunnerDeps{
		Log:      log,
		Sync:     pipeline.NewSyncEngine(log, a.States, a.Store, a.Manifest, lister, obs),
		Process:  pipeline.NewProcessingEngine(log, a.States, processor, workerCommand(), obs),
		Index:    pipeline.NewIndexingEngine(log, a.States, a.Store, a.Index, obs),
		States:   a.States,
		Store:    a.Store,
		Manifest: a.Manifest,
		Indexer:  a.Index,
	})

	a.Search = search.NewService(log, a.Index, a.States, a.Store, search.Config{
		CacheSize:    cfg.CacheSize,
		CacheTTL:     cfg.CacheTTL,
		SignedURLTTL: cfg.SignedURLTTL,
	})
	return a, nil
}

// NewExtractWorker builds only what an extract-worker child needs: the content store and the
// extractor. The parent owns all state.
func NewExtractWorker(ctx context.Context, log *logger.Logger, cfg Config) (*pipeline.Processor, func(), error) {
	backend, closeBackend, err := resolveContentBackend(ctx, log, cfg)
	if err != nil {
		return nil, nil, err
	}
	ex, rules, closers, err := buildExtractor(ctx, log, cfg)
	if closeBackend != nil {
		closers = append([]func() error{closeBackend}, closers...)
	}
	if err != nil {
		closeAll(log, closers)
		return nil, nil, err
	}
	return pipeline.NewProcessor(log, contentstore.New(backend, log), ex, rules), func() { closeAll(log, closers) }, nil
}

// StartCollectors serves /metrics and samples state counts until ctx is done.
func (a *App) StartCollectors(ctx context.Context) {
	if a.Metrics == nil {
		return
	}
	a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
	a.Metrics.StartStateCollector(ctx, a.Log, a.States)
	a.Metrics.StartDBCollector(ctx, a.Log, a.DB)
	if a.Redis != nil {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Redis)
	}
}

func (a *App) HTTPServer() *httpserver.Server {
	var auth *httpMW.AuthMiddleware
	if a.Cfg.JWTSecret != "" {
		auth = httpMW.NewAuthMiddleware(a.Log, a.Cfg.JWTSecret)
	}
	return httpserver.NewServer(httpserver.RouterConfig{
		Log:            a.Log,
		AuthMiddleware: auth,
		Metrics:        a.Metrics,
		CORSOrigins:    a.Cfg.CORSOrigins,
		HealthHandler:  httpH.NewHealthHandler(a.Log, a.ping),
		SearchHandler:  httpH.NewSearchHandler(a.Log, a.Search),
		FileHandler:    httpH.NewFileHandler(a.Log, a.Search),
		StatsHandler:   httpH.NewStatsHandler(a.Log, a.States),
	})
}

func (a *App) ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Serve runs the read API until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	a.StartCollectors(ctx)
	return a.HTTPServer().Run(ctx, a.Cfg.HTTPAddr)
}

// Work runs ingest cycles until ctx is done. With Temporal configured the cycle is a durable
// workflow; otherwise the runner loops on a ticker in-process.
func (a *App) Work(ctx context.Context, opts pipeline.Options) error {
	a.StartCollectors(ctx)
	tcfg := temporalx.LoadConfig()
	if !tcfg.Enabled() {
		a.Log.Info("Temporal not configured; running ingest loop in-process", "interval", a.Cfg.CycleInterval.String())
		return a.Runner.Loop(ctx, opts, a.Cfg.CycleInterval)
	}
	tc, err := temporalx.NewClient(a.Log, tcfg)
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	defer tc.Close()
	w, err := temporalworker.NewRunner(a.Log, tcfg, tc, a.Runner)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	if err := w.EnsureCycle(ctx, ingestcycle.CycleInput{Options: opts, Interval: a.Cfg.CycleInterval}); err != nil {
		return err
	}
	<-ctx.Done()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// Close saves the manifest and releases every client in reverse order of creation.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Manifest != nil {
		if err := a.Manifest.Flush(context.Background()); err != nil {
			a.Log.Warn("Manifest save on close failed", "error", err)
		}
	}
	closeAll(a.Log, a.closers)
	a.closers = nil
	a.Log.Sync()
}
