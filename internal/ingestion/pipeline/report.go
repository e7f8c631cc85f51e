package pipeline

import (
	"sort"
	"time"

	types "github.com/yungbote/docingest-backend/internal/domain/content"
)

// StageReport summarizes one stage of one run.
type StageReport struct {
	Stage  types.Stage `json:"stage"`
	DryRun bool        `json:"dry_run,omitempty"`

	Listed     int `json:"listed"`
	Attempted  int `json:"attempted"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	// Skipped counts files that needed no work or were claimed by another worker.
	Skipped      int `json:"skipped"`
	Conflicts    int `json:"conflicts,omitempty"`
	Deduplicated int `json:"deduplicated,omitempty"`
	Renamed      int `json:"renamed,omitempty"`

	ErrorKinds []types.ErrorKind `json:"error_kinds,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration"`

	kinds map[types.ErrorKind]struct{}
}

func newStageReport(stage types.Stage, dryRun bool) *StageReport {
	return &StageReport{Stage: stage, DryRun: dryRun, StartedAt: time.Now().UTC(), kinds: map[types.ErrorKind]struct{}{}}
}

func (r *StageReport) recordFailure(kind types.ErrorKind) {
	r.Failed++
	if _, ok := r.kinds[kind]; ok {
		return
	}
	r.kinds[kind] = struct{}{}
	r.ErrorKinds = append(r.ErrorKinds, kind)
	sort.Slice(r.ErrorKinds, func(i, j int) bool { return r.ErrorKinds[i] < r.ErrorKinds[j] })
}

func (r *StageReport) finish() *StageReport {
	r.Duration = time.Since(r.StartedAt)
	return r
}

func (r *StageReport) status() string {
	if r.Failed > 0 {
		return "partial"
	}
	return "ok"
}

// Report is the outcome of a multi-stage run.
type Report struct {
	RunID      string         `json:"run_id"`
	Stages     []*StageReport `json:"stages"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

func (r *Report) Stage(s types.Stage) *StageReport {
	for _, st := range r.Stages {
		if st.Stage == s {
			return st
		}
	}
	return nil
}

func (r *Report) Failed() int {
	n := 0
	for _, st := range r.Stages {
		n += st.Failed
	}
	return n
}
