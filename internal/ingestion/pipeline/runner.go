package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/ingestion/indexer"
	"github.com/yungbote/docingest-backend/internal/ingestion/manifest"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

// AllStages is the order of a full run.
var AllStages = []types.Stage{types.StageSync, types.StageProcess, types.StageIndex}

type Runner struct {
	log      *logger.Logger
	Sync     *SyncEngine
	Process  *ProcessingEngine
	Index    *IndexingEngine
	states   contentrepo.StateStore
	store    *contentstore.Store
	manifest *manifest.Manifest
	index    indexer.Index
}

type RunnerDeps struct {
	Log      *logger.Logger
	Sync     *SyncEngine
	Process  *ProcessingEngine
	Index    *IndexingEngine
	States   contentrepo.StateStore
	Store    *contentstore.Store
	Manifest *manifest.Manifest
	Indexer  indexer.Index
}

func NewRunner(d RunnerDeps) *Runner {
	return &Runner{
		log:      d.Log.With("component", "PipelineRunner"),
		Sync:     d.Sync,
		Process:  d.Process,
		Index:    d.Index,
		states:   d.States,
		store:    d.Store,
		manifest: d.Manifest,
		index:    d.Indexer,
	}
}

// Run executes stages in order. A per-file failure never stops the run; a state store failure
// stops it and is returned along with the partial report.
func (r *Runner) Run(ctx context.Context, stages []types.Stage, opts Options) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := r.log.With("run_id", report.RunID)
	log.Info("Run started", "stages", stages, "dry_run", opts.DryRun, "retry_failed", opts.RetryFailed)
	defer func() { report.FinishedAt = time.Now().UTC() }()

	for _, stage := range stages {
		var (
			rep *StageReport
			err error
		)
		switch stage {
		case types.StageSync:
			if r.Sync == nil {
				return report, fmt.Errorf("sync stage not configured")
			}
			rep, err = r.Sync.Run(ctx, opts)
		case types.StageProcess:
			rep, err = r.Process.Run(ctx, opts)
		case types.StageIndex:
			rep, err = r.Index.Run(ctx, opts)
		default:
			return report, fmt.Errorf("unknown stage %q", stage)
		}
		if rep != nil {
			report.Stages = append(report.Stages, rep)
		}
		if err != nil {
			log.Error("Run aborted", "stage", stage, "error", err)
			return report, err
		}
	}
	log.Info("Run finished", "failed", report.Failed(), "duration", time.Since(report.StartedAt).String())
	return report, nil
}

func (r *Runner) Full(ctx context.Context, opts Options) (*Report, error) {
	return r.Run(ctx, AllStages, opts)
}

func (r *Runner) Stats(ctx context.Context) (*contentrepo.Stats, error) {
	return r.states.Stats(dbctx.Of(ctx))
}

// ResetStale returns records stuck in processing or indexing to their failure branch.
func (r *Runner) ResetStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return r.states.ResetStale(dbctx.Of(ctx), olderThan)
}

// Purge deletes all pipeline state, stored content, the manifest and indexed points.
func (r *Runner) Purge(ctx context.Context, dryRun bool) error {
	if dryRun {
		stats, err := r.Stats(ctx)
		if err != nil {
			return err
		}
		r.log.Info("Would purge", "records", stats.Total, "manifest_entries", r.manifest.Len())
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.states.Purge(dbctx.Of(gctx)) })
	g.Go(func() error { return r.manifest.Reset(gctx) })
	g.Go(func() error { return r.store.Purge(gctx) })
	if r.index != nil {
		g.Go(func() error { return r.index.Purge(gctx) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	r.log.Warn("Purged all ingestion state")
	return nil
}

// Loop runs full cycles every interval until ctx is done. It serves deployments without a
// Temporal cluster. An aborted cycle is logged and the loop keeps going.
func (r *Runner) Loop(ctx context.Context, opts Options, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Full(ctx, opts); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error("Ingest cycle aborted", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
