package ingestcycle

import (
	"time"

	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/pipeline"
)

const (
	WorkflowName     = "ingest_cycle"
	WorkflowID       = "docingest-ingest-cycle"
	ActivityRunStage = "ingest_run_stage"

	DefaultInterval  = 15 * time.Minute
	DefaultMaxCycles = 100
)

type CycleInput struct {
	Options   pipeline.Options `json:"options"`
	Interval  time.Duration    `json:"interval"`
	MaxCycles int              `json:"max_cycles"`
}

type StageInput struct {
	Stage   types.Stage      `json:"stage"`
	Options pipeline.Options `json:"options"`
}

// StageSummary is the part of a StageReport that travels through workflow history.
type StageSummary struct {
	Stage      types.Stage       `json:"stage"`
	Attempted  int               `json:"attempted"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	ErrorKinds []types.ErrorKind `json:"error_kinds,omitempty"`
}

func summarize(rep *pipeline.StageReport) StageSummary {
	return StageSummary{
		Stage:      rep.Stage,
		Attempted:  rep.Attempted,
		Successful: rep.Successful,
		Failed:     rep.Failed,
		Skipped:    rep.Skipped,
		ErrorKinds: rep.ErrorKinds,
	}
}
