package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/docingest-backend/internal/ingestion/pipeline"
	"github.com/yungbote/docingest-backend/internal/platform/envutil"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
	"github.com/yungbote/docingest-backend/internal/temporalx"
	"github.com/yungbote/docingest-backend/internal/temporalx/ingestcycle"
)

type Runner struct {
	log    *logger.Logger
	cfg    temporalx.Config
	tc     temporalsdkclient.Client
	runner *pipeline.Runner
}

func NewRunner(log *logger.Logger, cfg temporalx.Config, tc temporalsdkclient.Client, runner *pipeline.Runner) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if runner == nil {
		return nil, fmt.Errorf("temporal worker missing pipeline runner")
	}
	return &Runner{log: log.With("component", "TemporalWorker"), cfg: cfg, tc: tc, runner: runner}, nil
}

// Start starts polling, retrying until TEMPORAL_WORKER_START_MAX_WAIT_SECONDS. The worker stops
// when ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	r.log.Info("Starting Temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)
	if r.cfg.AutoRegisterNamespace {
		if err := temporalx.EnsureNamespace(ctx, r.log, r.cfg); err != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "error", err)
		}
	}

	maxWait := envutil.Duration("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", time.Minute, time.Second)
	deadline := time.Now().Add(maxWait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		notFound := errors.As(startErr, &nfe)
		if notFound && r.cfg.AutoRegisterNamespace {
			_ = temporalx.EnsureNamespace(ctx, r.log, r.cfg)
		}
		if maxWait <= 0 || time.Now().After(deadline) {
			if notFound {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", r.cfg.Namespace, startErr)
			}
			return startErr
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		time.Sleep(r.cfg.Backoff * time.Duration(attempt))
	}
}

func (r *Runner) newWorker() worker.Worker {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 2)
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	acts := &ingestcycle.Activities{Log: r.log, Runner: r.runner}
	w.RegisterWorkflowWithOptions(ingestcycle.Workflow, workflow.RegisterOptions{Name: ingestcycle.WorkflowName})
	w.RegisterActivityWithOptions(acts.RunStage, activity.RegisterOptions{Name: ingestcycle.ActivityRunStage})
	return w
}

// EnsureCycle starts the ingest-cycle workflow unless one is already running.
func (r *Runner) EnsureCycle(ctx context.Context, in ingestcycle.CycleInput) error {
	run, err := r.tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:                       ingestcycle.WorkflowID,
		TaskQueue:                r.cfg.TaskQueue,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, ingestcycle.WorkflowName, in)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			r.log.Info("Ingest cycle already running", "workflow_id", ingestcycle.WorkflowID)
			return nil
		}
		return fmt.Errorf("start ingest cycle: %w", err)
	}
	r.log.Info("Ingest cycle running", "workflow_id", run.GetID(), "run_id", run.GetRunID(), "interval", in.Interval.String())
	return nil
}
