package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/pool"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

// stageDef describes a claim-based stage: which records it drains, what it submits for each,
// and the fields recorded on success.
type stageDef[T, R any] struct {
	stage     types.Stage
	fallback  types.ErrorKind
	task      func(rec *types.ContentRecord) T
	onSuccess func(rec *types.ContentRecord, res R) map[string]interface{}
}

type pendingTask[R any] struct {
	rec *types.ContentRecord
	fut *pool.Future[R]
}

// runStage drains the stage's input status in chunks. Each chunk is claimed, submitted to the
// pool and fully awaited before the next chunk is listed, so at most ChunkSize results are
// held at once.
func runStage[T, R any](ctx context.Context, log *logger.Logger, states contentrepo.StateStore, obs Observer, p pool.Pool[T, R], opts Options, def stageDef[T, R]) (*StageReport, error) {
	stage := def.stage
	ctx, span := tracer.Start(ctx, "ingest."+string(stage))
	defer span.End()

	report := newStageReport(stage, opts.DryRun)
	defer func() { obs.ObserveStage(string(stage), report.status(), time.Since(report.StartedAt)) }()

	claimFrom := []types.Status{stage.Input(), stage.Failed()}
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return report.finish(), err
		}
		limit := opts.ChunkSize
		if opts.MaxFiles > 0 {
			remaining := opts.MaxFiles - report.Attempted
			if remaining <= 0 {
				break
			}
			if remaining < limit {
				limit = remaining
			}
		}
		recs, err := states.ListByStatus(dbctx.Of(ctx), stage.Input(), contentrepo.ListOptions{
			IncludeFailed: opts.RetryFailed,
			Limit:         limit,
			After:         cursor,
		})
		if err != nil {
			return report.finish(), stateErr("list "+string(stage.Input()), err)
		}
		if len(recs) == 0 {
			break
		}
		cursor = recs[len(recs)-1].ContentHash
		report.Listed += len(recs)

		if opts.DryRun {
			for _, rec := range recs {
				report.Attempted++
				log.Info("Would "+string(stage), "content_hash", rec.ContentHash, "status", rec.Status)
			}
			continue
		}

		pending := make([]pendingTask[R], 0, len(recs))
		for _, rec := range recs {
			ok, err := states.Transition(dbctx.Of(ctx), rec.ContentHash, claimFrom, stage.InFlight(), nil)
			if err != nil {
				drain(ctx, pending)
				return report.finish(), stateErr("claim", err)
			}
			if !ok {
				report.Skipped++
				report.Conflicts++
				log.Debug("Claim lost", "content_hash", rec.ContentHash)
				continue
			}
			report.Attempted++
			obs.AddInflight(string(stage), 1)
			pending = append(pending, pendingTask[R]{rec: rec, fut: p.Submit(ctx, def.task(rec))})
		}

		for i, pt := range pending {
			res, werr := pt.fut.Wait(ctx)
			obs.AddInflight(string(stage), -1)
			if err := settle(ctx, log, states, obs, report, def, pt.rec, res, werr); err != nil {
				drain(ctx, pending[i+1:])
				return report.finish(), err
			}
			pending[i] = pendingTask[R]{}
		}
	}

	rep := report.finish()
	span.SetAttributes(
		attribute.Int("ingest.attempted", rep.Attempted),
		attribute.Int("ingest.successful", rep.Successful),
		attribute.Int("ingest.failed", rep.Failed),
	)
	log.Info("Stage finished",
		"stage", stage,
		"attempted", rep.Attempted,
		"successful", rep.Successful,
		"failed", rep.Failed,
		"skipped", rep.Skipped,
		"error_kinds", rep.ErrorKinds,
		"duration", rep.Duration.String(),
	)
	return rep, nil
}

func settle[T, R any](ctx context.Context, log *logger.Logger, states contentrepo.StateStore, obs Observer, report *StageReport, def stageDef[T, R], rec *types.ContentRecord, res R, werr error) error {
	stage := def.stage
	flog := log.With("content_hash", rec.ContentHash, "stage", stage)
	if werr != nil {
		kind := KindOf(werr, def.fallback)
		if err := states.MarkFailed(dbctx.Of(ctx), rec.ContentHash, stage, kind, werr.Error()); err != nil {
			return stateErr("mark failed", err)
		}
		report.recordFailure(kind)
		obs.ObserveFile(string(stage), "failed")
		flog.Warn("File failed", "error_kind", kind, "error", werr, "retry_count", rec.RetryCount+1)
		return nil
	}
	ok, err := states.Transition(dbctx.Of(ctx), rec.ContentHash, []types.Status{stage.InFlight()}, stage.Output(), def.onSuccess(rec, res))
	if err != nil {
		return stateErr("complete", err)
	}
	if !ok {
		// Reset by a remediation while we worked; leave the record to it.
		report.Skipped++
		report.Conflicts++
		flog.Warn("Completion lost; record no longer in flight")
		return nil
	}
	report.Successful++
	obs.ObserveFile(string(stage), string(stage.Output()))
	flog.Debug("File done")
	return nil
}

// drain waits out submitted tasks when a run aborts so no worker outlives it unobserved.
func drain[R any](ctx context.Context, pending []pendingTask[R]) {
	for _, pt := range pending {
		if pt.fut != nil {
			_, _ = pt.fut.Wait(ctx)
		}
	}
}
