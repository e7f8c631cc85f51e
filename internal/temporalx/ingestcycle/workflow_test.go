package ingestcycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	"github.com/yungbote/docingest-backend/internal/data/repos/testutil"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/ingestion/extractor"
	"github.com/yungbote/docingest-backend/internal/ingestion/indexer"
	"github.com/yungbote/docingest-backend/internal/ingestion/manifest"
	"github.com/yungbote/docingest-backend/internal/ingestion/pipeline"
	"github.com/yungbote/docingest-backend/internal/ingestion/source"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

func TestWorkflowRunsStagesInOrderThenContinuesAsNew(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	var (
		mu    sync.Mutex
		order []types.Stage
	)
	env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions(func(ctx context.Context, in StageInput) (StageSummary, error) {
		mu.Lock()
		order = append(order, in.Stage)
		mu.Unlock()
		return StageSummary{Stage: in.Stage, Successful: 1}, nil
	}, activity.RegisterOptions{Name: ActivityRunStage})

	env.ExecuteWorkflow(WorkflowName, CycleInput{Interval: time.Minute, MaxCycles: 2})

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	var can *workflow.ContinueAsNewError
	if err := env.GetWorkflowError(); !errors.As(err, &can) {
		t.Fatalf("workflow error = %v, want continue-as-new", err)
	}
	want := []types.Stage{types.StageSync, types.StageProcess, types.StageIndex, types.StageSync, types.StageProcess, types.StageIndex}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestWorkflowSkipsRestOfCycleOnAbort(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	calls := map[types.Stage]int{}
	env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions(func(ctx context.Context, in StageInput) (StageSummary, error) {
		calls[in.Stage]++
		if in.Stage == types.StageProcess {
			return StageSummary{}, errors.New("state store: connection refused")
		}
		return StageSummary{Stage: in.Stage}, nil
	}, activity.RegisterOptions{Name: ActivityRunStage})

	env.ExecuteWorkflow(WorkflowName, CycleInput{Interval: time.Minute, MaxCycles: 1})

	var can *workflow.ContinueAsNewError
	if err := env.GetWorkflowError(); !errors.As(err, &can) {
		t.Fatalf("workflow error = %v", err)
	}
	if calls[types.StageSync] != 1 || calls[types.StageProcess] != 3 || calls[types.StageIndex] != 0 {
		t.Fatalf("calls = %v", calls)
	}
}

func TestRunStageActivity(t *testing.T) {
	ctx := context.Background()
	log := logger.Nop()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "memo.txt"), []byte("Quarterly memo about budgets."), 0o644); err != nil {
		t.Fatal(err)
	}
	lister, err := source.NewLocalLister(root, []string{".txt"})
	if err != nil {
		t.Fatalf("NewLocalLister: %v", err)
	}
	states := contentrepo.NewStateStore(testutil.DB(t), log)
	store := contentstore.New(contentstore.NewMemoryBackend(), log)
	m := manifest.New(manifest.NewFileSnapshot(filepath.Join(t.TempDir(), "manifest.json")), log)
	idx := indexer.NewMemoryIndex(500)
	runner := pipeline.NewRunner(pipeline.RunnerDeps{
		Log:      log,
		Sync:     pipeline.NewSyncEngine(log, states, store, m, lister, nil),
		Process:  pipeline.NewProcessingEngine(log, states, pipeline.NewProcessor(log, store, extractor.New(log, nil, nil, nil), nil), nil, nil),
		Index:    pipeline.NewIndexingEngine(log, states, store, idx, nil),
		States:   states,
		Store:    store,
		Manifest: m,
		Indexer:  idx,
	})

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	acts := &Activities{Log: log, Runner: runner}
	env.RegisterActivityWithOptions(acts.RunStage, activity.RegisterOptions{Name: ActivityRunStage})

	for _, stage := range pipeline.AllStages {
		val, err := env.ExecuteActivity(ActivityRunStage, StageInput{Stage: stage, Options: pipeline.DefaultOptions()})
		if err != nil {
			t.Fatalf("%s: %v", stage, err)
		}
		var sum StageSummary
		if err := val.Get(&sum); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if sum.Stage != stage || sum.Successful != 1 || sum.Failed != 0 {
			t.Fatalf("%s summary = %+v", stage, sum)
		}
	}
	stats, err := states.Stats(dbctx.Of(ctx))
	if err != nil || stats.ByStatus[types.StatusIndexed] != 1 {
		t.Fatalf("stats = %+v err=%v", stats, err)
	}
}
