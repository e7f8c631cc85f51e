package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	"github.com/yungbote/docingest-backend/internal/data/repos/testutil"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

func TestPipelineObserverMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveFile("process", "processed")
	m.ObserveFile("process", "processed")
	m.ObserveFile("process", "failed")
	m.AddInflight("process", 3)
	m.AddInflight("process", -2)
	m.ObserveStage("process", "partial", 90*time.Second)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE ingest_files_total counter",
		`ingest_files_total{stage="process",outcome="processed"} 2`,
		`ingest_files_total{stage="process",outcome="failed"} 1`,
		`ingest_inflight{stage="process"} 1`,
		`ingest_stage_runs_total{stage="process",status="partial"} 1`,
		`ingest_stage_duration_seconds_bucket{stage="process",le="60"} 0`,
		`ingest_stage_duration_seconds_bucket{stage="process",le="300"} 1`,
		`ingest_stage_duration_seconds_count{stage="process"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestNilMetricsIsInert(t *testing.T) {
	var m *Metrics
	m.ObserveFile("sync", "synced")
	m.ObserveStage("sync", "ok", time.Second)
	m.AddInflight("sync", 1)
	m.ObserveAPI("GET", "/healthz", "200", time.Millisecond)
	m.ApiInflightInc()
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("nil write: %v", err)
	}
	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestCollectStates(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	testutil.SeedRecords(t, ctx, db, "synced", 3, types.StatusSynced)
	testutil.SeedRecords(t, ctx, db, "failed", 2, types.StatusFailedProcess)

	m := NewMetrics()
	if err := m.CollectStates(ctx, contentrepo.NewStateStore(db, logger.Nop())); err != nil {
		t.Fatalf("CollectStates: %v", err)
	}
	if got := m.stateFiles.Value(string(types.StatusSynced)); got != 3 {
		t.Fatalf("synced = %v", got)
	}
	if got := m.stateFiles.Value(string(types.StatusFailedProcess)); got != 2 {
		t.Fatalf("failed_process = %v", got)
	}
	if got := m.stateFiles.Value(string(types.StatusIndexed)); got != 0 {
		t.Fatalf("indexed = %v", got)
	}
}

func TestWriteHTTPAndLabelEscaping(t *testing.T) {
	m := NewMetrics()
	m.ObserveAPI("GET", `/api/files/"x"`, "404", 5*time.Millisecond)
	m.ApiInflightInc()

	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("code=%d type=%q", rec.Code, rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	if !strings.Contains(body, `route="/api/files/\"x\""`) {
		t.Fatalf("label not escaped:\n%s", body)
	}
	if !strings.Contains(body, "ingest_api_inflight_requests 1") {
		t.Fatalf("inflight gauge missing:\n%s", body)
	}
}

func TestIndexAndBootstrapMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveIndexOp("qdrant", "upload", nil, 200*time.Millisecond)
	m.ObserveIndexOp("qdrant", "upload", errors.New("503"), time.Second)
	m.ObserveBootstrap("content_store", "s3", "error", "missing_bucket")
	m.ObserveBootstrap("content_store", "fs", "success", "none")

	if got := m.indexOps.Value("qdrant", "upload", "error"); got != 1 {
		t.Fatalf("index errors = %v", got)
	}
	if got := m.indexLatency.Count("qdrant", "upload"); got != 2 {
		t.Fatalf("latency samples = %d", got)
	}
	if got := m.providers.Value("content_store", "fs"); got != 1 {
		t.Fatalf("active provider = %v", got)
	}
	if got := m.providers.Value("content_store", "s3"); got != 0 {
		t.Fatalf("failed provider marked active")
	}

	var nilM *Metrics
	nilM.ObserveIndexOp("memory", "search", nil, 0)
	nilM.ObserveBootstrap("index", "memory", "success", "none")
}
