package ingestcycle

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/docingest-backend/internal/ingestion/pipeline"
)

const continueHistoryLimit = 10000

// Workflow runs sync, process and index in order, sleeps, and repeats. A stage that fails after
// its retries ends the current cycle early; the next cycle starts on schedule.
func Workflow(ctx workflow.Context, in CycleInput) error {
	if in.Interval <= 0 {
		in.Interval = DefaultInterval
	}
	if in.MaxCycles <= 0 {
		in.MaxCycles = DefaultMaxCycles
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 6 * time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})
	log := workflow.GetLogger(ctx)

	for cycle := 1; cycle <= in.MaxCycles; cycle++ {
		for _, stage := range pipeline.AllStages {
			var sum StageSummary
			err := workflow.ExecuteActivity(ctx, ActivityRunStage, StageInput{Stage: stage, Options: in.Options}).Get(ctx, &sum)
			if err != nil {
				log.Error("Ingest stage aborted; skipping rest of cycle", "cycle", cycle, "stage", stage, "error", err)
				break
			}
			log.Info("Ingest stage done", "cycle", cycle, "stage", stage, "successful", sum.Successful, "failed", sum.Failed)
		}
		if err := workflow.Sleep(ctx, in.Interval); err != nil {
			return err
		}
		if workflow.GetInfo(ctx).GetCurrentHistoryLength() >= continueHistoryLimit {
			break
		}
	}
	return workflow.NewContinueAsNewError(ctx, Workflow, in)
}
