package ingestcycle

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/pipeline"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

type Activities struct {
	Log    *logger.Logger
	Runner *pipeline.Runner
}

// RunStage runs one pipeline stage. Per-file failures are part of the summary; only a run abort
// is returned as an error, which Temporal retries.
func (a *Activities) RunStage(ctx context.Context, in StageInput) (StageSummary, error) {
	if a == nil || a.Runner == nil {
		return StageSummary{}, fmt.Errorf("ingestcycle: activity not configured")
	}
	stop := startHeartbeat(ctx, 10*time.Second)
	defer stop()

	rep, err := a.Runner.Run(ctx, []types.Stage{in.Stage}, in.Options)
	var sum StageSummary
	if st := rep.Stage(in.Stage); st != nil {
		sum = summarize(st)
	}
	return sum, err
}

func startHeartbeat(ctx context.Context, every time.Duration) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
