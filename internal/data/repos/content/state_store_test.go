package content

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/docingest-backend/internal/data/repos/testutil"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
)

func newRecord(body string) *types.ContentRecord {
	h := testutil.Hash(body)
	return &types.ContentRecord{
		ContentHash: h,
		StorageKey:  "objects/" + h[0:2] + "/" + h[2:4] + "/" + h + ".pdf",
		OriginID:    "drive-" + body,
		OriginName:  body + ".pdf",
		Extension:   ".pdf",
	}
}

func TestUpsertOnFirstSeenIsNoOpOnConflict(t *testing.T) {
	db := testutil.DB(t)
	repo := NewStateStore(db, testutil.Logger(t))
	dbc := dbctx.Of(context.Background())

	first := newRecord("same-bytes")
	created, err := repo.UpsertOnFirstSeen(dbc, first)
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}
	if first.Status != types.StatusFailedSync {
		t.Fatalf("new record should start pending sync, got %q", first.Status)
	}

	second := newRecord("same-bytes")
	second.OriginID = "drive-other"
	created, err = repo.UpsertOnFirstSeen(dbc, second)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatalf("second upsert should be a no-op")
	}

	var count int64
	if err := db.Model(&types.ContentRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one record, got %d", count)
	}
	got, err := repo.Get(dbc, first.ContentHash)
	if err != nil || got == nil {
		t.Fatalf("Get: rec=%v err=%v", got, err)
	}
	if got.OriginID != "drive-same-bytes" {
		t.Fatalf("conflicting upsert must not overwrite origin, got %q", got.OriginID)
	}
}

func TestUpsertOnFirstSeenConcurrent(t *testing.T) {
	db := testutil.DB(t)
	repo := NewStateStore(db, testutil.Logger(t))
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.UpsertOnFirstSeen(dbctx.Of(ctx), newRecord("raced"))
			if err != nil {
				t.Errorf("upsert: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("expected one creator, got %d", created)
	}
}

func TestTransitionRaceHasSingleWinner(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	rec := testutil.SeedRecord(t, ctx, db, "race", types.StatusSynced)
	repo := NewStateStore(db, testutil.Logger(t))

	results := make(chan bool, 2)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := repo.Transition(dbctx.Of(ctx), rec.ContentHash, []types.Status{types.StatusSynced}, types.StatusProcessing, nil)
			if err != nil {
				t.Errorf("transition: %v", err)
			}
			results <- ok
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", wins)
	}
}

func TestTransitionSetsStageFieldsAndClearsErrors(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Of(ctx)
	rec := testutil.SeedRecord(t, ctx, db, "lifecycle", types.StatusSynced)
	repo := NewStateStore(db, testutil.Logger(t))

	if err := repo.MarkFailed(dbc, rec.ContentHash, types.StageProcess, types.ErrorExtraction, "no text"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _ := repo.Get(dbc, rec.ContentHash)
	if got.Status != types.StatusFailedProcess || got.ErrorKind != types.ErrorExtraction || got.RetryCount != 1 || got.LastErrorAt == nil {
		t.Fatalf("unexpected failed state: %+v", got)
	}

	ok, err := repo.Transition(dbc, rec.ContentHash, []types.Status{types.StatusSynced, types.StatusFailedProcess}, types.StatusProcessing, nil)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	got, _ = repo.Get(dbc, rec.ContentHash)
	if got.RetryCount != 1 {
		t.Fatalf("claim must keep retry_count, got %d", got.RetryCount)
	}
	ok, err = repo.Transition(dbc, rec.ContentHash, []types.Status{types.StatusProcessing}, types.StatusProcessed, map[string]interface{}{
		"char_count":    42,
		"element_count": 3,
	})
	if err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	got, _ = repo.Get(dbc, rec.ContentHash)
	if got.Status != types.StatusProcessed || got.ProcessedAt == nil || got.CharCount != 42 || got.ElementCount != 3 {
		t.Fatalf("unexpected processed state: %+v", got)
	}
	if got.ErrorKind != "" || got.ErrorMessage != "" || got.LastErrorAt != nil {
		t.Fatalf("error fields not cleared: %+v", got)
	}
	if got.RetryCount != 0 {
		t.Fatalf("retry_count not cleared after successful retry, got %d", got.RetryCount)
	}

	ok, err = repo.Transition(dbc, rec.ContentHash, []types.Status{types.StatusSynced}, types.StatusProcessing, nil)
	if err != nil || ok {
		t.Fatalf("stale transition must not apply: ok=%v err=%v", ok, err)
	}
}

func TestMarkFailedDoesNotRegressAdvancedRecords(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Of(ctx)
	rec := testutil.SeedRecord(t, ctx, db, "done", types.StatusIndexed)
	repo := NewStateStore(db, testutil.Logger(t))

	for _, stage := range []types.Stage{types.StageSync, types.StageProcess} {
		if err := repo.MarkFailed(dbc, rec.ContentHash, stage, types.ErrorStorageFailure, "late failure"); err != nil {
			t.Fatalf("MarkFailed(%s): %v", stage, err)
		}
	}
	if err := repo.MarkFailed(dbc, "missing-hash", types.StageIndex, types.ErrorIndex, "x"); err != nil {
		t.Fatalf("MarkFailed on missing record should be a no-op: %v", err)
	}
	got, _ := repo.Get(dbc, rec.ContentHash)
	if got.Status != types.StatusIndexed || got.RetryCount != 0 {
		t.Fatalf("indexed record was modified: %+v", got)
	}
}

func TestListByStatus(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Of(ctx)
	repo := NewStateStore(db, testutil.Logger(t))

	testutil.SeedRecords(t, ctx, db, "synced", 5, types.StatusSynced)
	testutil.SeedRecords(t, ctx, db, "failed", 2, types.StatusFailedProcess)
	testutil.SeedRecords(t, ctx, db, "indexed", 3, types.StatusIndexed)

	tests := []struct {
		name   string
		status types.Status
		opts   ListOptions
		want   int
	}{
		{"synced only", types.StatusSynced, ListOptions{}, 5},
		{"synced with failed branch", types.StatusSynced, ListOptions{IncludeFailed: true}, 7},
		{"limit", types.StatusSynced, ListOptions{IncludeFailed: true, Limit: 4}, 4},
		{"indexed ignores include failed", types.StatusIndexed, ListOptions{IncludeFailed: true}, 3},
		{"nothing processed", types.StatusProcessed, ListOptions{IncludeFailed: true}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := repo.ListByStatus(dbc, tc.status, tc.opts)
			if err != nil {
				t.Fatalf("ListByStatus: %v", err)
			}
			if len(rows) != tc.want {
				t.Fatalf("expected %d rows, got %d", tc.want, len(rows))
			}
		})
	}

	seen := map[string]bool{}
	after := ""
	for {
		page, err := repo.ListByStatus(dbc, types.StatusSynced, ListOptions{IncludeFailed: true, Limit: 3, After: after})
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			if seen[r.ContentHash] {
				t.Fatalf("cursor returned %s twice", r.ContentHash)
			}
			seen[r.ContentHash] = true
		}
		after = page[len(page)-1].ContentHash
	}
	if len(seen) != 7 {
		t.Fatalf("cursor walk saw %d rows, want 7", len(seen))
	}
}

func TestUpdateOriginMetadataKeepsStatus(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Of(ctx)
	rec := testutil.SeedRecord(t, ctx, db, "renamed", types.StatusProcessed)
	repo := NewStateStore(db, testutil.Logger(t))

	if err := repo.UpdateOriginMetadata(dbc, rec.ContentHash, rec.OriginID, "archive/2024/new.pdf", "new.pdf"); err != nil {
		t.Fatalf("UpdateOriginMetadata: %v", err)
	}
	got, _ := repo.Get(dbc, rec.ContentHash)
	if got.OriginPath != "archive/2024/new.pdf" || got.OriginName != "new.pdf" {
		t.Fatalf("origin not updated: %+v", got)
	}
	if got.Status != types.StatusProcessed {
		t.Fatalf("status changed to %q", got.Status)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Of(context.Background())
	repo := NewStateStore(db, testutil.Logger(t))

	if _, ok, err := repo.GetCheckpoint(dbc, types.CheckpointLastSync); err != nil || ok {
		t.Fatalf("empty checkpoint: ok=%v err=%v", ok, err)
	}
	for _, v := range []string{"2024-01-01T00:00:00Z", "2024-02-01T00:00:00Z"} {
		if err := repo.SetCheckpoint(dbc, types.CheckpointLastSync, v); err != nil {
			t.Fatalf("SetCheckpoint: %v", err)
		}
	}
	v, ok, err := repo.GetCheckpoint(dbc, types.CheckpointLastSync)
	if err != nil || !ok || v != "2024-02-01T00:00:00Z" {
		t.Fatalf("GetCheckpoint: v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestOriginsRecordAndList(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Of(context.Background())
	repo := NewStateStore(db, testutil.Logger(t))

	mod := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	h := testutil.Hash("x")
	if err := repo.RecordOrigin(dbc, &types.OriginFile{OriginID: "a", ContentHash: h, OriginName: "a.pdf", ModifiedTime: &mod}); err != nil {
		t.Fatalf("RecordOrigin: %v", err)
	}
	if err := repo.RecordOrigin(dbc, &types.OriginFile{OriginID: "a", ContentHash: h, OriginName: "renamed.pdf", ModifiedTime: &mod}); err != nil {
		t.Fatalf("RecordOrigin update: %v", err)
	}
	if err := repo.MarkOriginFailed(dbc, &types.OriginFile{OriginID: "b", OriginName: "b.pdf"}, types.ErrorSourceUnavailable, "403"); err != nil {
		t.Fatalf("MarkOriginFailed: %v", err)
	}
	origins, err := repo.ListOrigins(dbc, "", 10)
	if err != nil {
		t.Fatalf("ListOrigins: %v", err)
	}
	if len(origins) != 1 || origins[0].OriginName != "renamed.pdf" {
		t.Fatalf("unexpected origins: %+v", origins)
	}
}

func TestResetStaleAndStats(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Of(ctx)
	repo := NewStateStore(db, testutil.Logger(t))

	stuck := testutil.SeedRecord(t, ctx, db, "stuck", types.StatusProcessing)
	fresh := testutil.SeedRecord(t, ctx, db, "fresh", types.StatusIndexing)
	testutil.SeedRecord(t, ctx, db, "ok", types.StatusIndexed)
	old := time.Now().UTC().Add(-48 * time.Hour)
	if err := db.Model(&types.ContentRecord{}).Where("content_hash = ?", stuck.ContentHash).UpdateColumn("updated_at", old).Error; err != nil {
		t.Fatalf("age record: %v", err)
	}

	n, err := repo.ResetStale(dbc, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("ResetStale: n=%d err=%v", n, err)
	}
	got, _ := repo.Get(dbc, stuck.ContentHash)
	if got.Status != types.StatusFailedProcess || got.ErrorKind != types.ErrorStale {
		t.Fatalf("stale record not reset: %+v", got)
	}
	got, _ = repo.Get(dbc, fresh.ContentHash)
	if got.Status != types.StatusIndexing {
		t.Fatalf("fresh in-flight record was reset: %+v", got)
	}

	stats, err := repo.Stats(dbc)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || stats.ByStatus[types.StatusFailedProcess] != 1 || stats.ByStatus[types.StatusIndexed] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if b := stats.Errors[types.StatusFailedProcess]; len(b) != 1 || b[0].Kind != types.ErrorStale || b[0].Count != 1 {
		t.Fatalf("unexpected error buckets: %+v", stats.Errors)
	}

	if err := repo.Purge(dbc); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	stats, _ = repo.Stats(dbc)
	if stats.Total != 0 {
		t.Fatalf("purge left %d records", stats.Total)
	}
}
