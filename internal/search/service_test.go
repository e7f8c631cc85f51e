package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	"github.com/yungbote/docingest-backend/internal/data/repos/testutil"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/ingestion/indexer"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

type fakeIndex struct {
	hits map[string][]indexer.Hit
	err  error
}

func (f *fakeIndex) Upload(context.Context, string, string, string) (string, error) { return "", nil }
func (f *fakeIndex) Purge(context.Context) error                                    { return nil }

func (f *fakeIndex) Search(_ context.Context, q string, _ int) ([]indexer.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits[q], nil
}

type countingLookup struct {
	RecordLookup
	getMany int
}

func (c *countingLookup) GetMany(dbc dbctx.Context, hashes []string) ([]*types.ContentRecord, error) {
	c.getMany++
	return c.RecordLookup.GetMany(dbc, hashes)
}

func setup(t *testing.T, idx indexer.Index) (*Service, *countingLookup, []*types.ContentRecord) {
	t.Helper()
	ctx := context.Background()
	db := testutil.DB(t)
	a := testutil.SeedRecord(t, ctx, db, "alpha", types.StatusIndexed)
	b := testutil.SeedRecord(t, ctx, db, "beta", types.StatusSynced)
	lookup := &countingLookup{RecordLookup: contentrepo.NewStateStore(db, logger.Nop())}
	store := contentstore.New(contentstore.NewMemoryBackend(), logger.Nop())
	return NewService(logger.Nop(), idx, lookup, store, DefaultConfig()), lookup, []*types.ContentRecord{a, b}
}

func TestSearchMergesQueriesByHash(t *testing.T) {
	ha, hb := testutil.Hash("alpha"), testutil.Hash("beta")
	idx := &fakeIndex{hits: map[string][]indexer.Hit{
		"budget": {
			{ContentHash: ha, ChunkIndex: 0, ChunkText: "a0", Score: 0.4},
			{ContentHash: hb, ChunkIndex: 2, ChunkText: "b2", Score: 0.5},
		},
		"forecast": {
			{ContentHash: ha, ChunkIndex: 3, ChunkText: "a3", Score: 0.9},
			{ContentHash: ha, ChunkIndex: 0, ChunkText: "a0", Score: 0.6},
		},
	}}
	svc, _, _ := setup(t, idx)

	res, err := svc.Search(context.Background(), []string{"budget", " ", "forecast"}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 || res[0].ContentHash != ha || res[1].ContentHash != hb {
		t.Fatalf("results = %+v", res)
	}
	a := res[0]
	if a.Score != 0.9 || len(a.Chunks) != 2 || a.Chunks[0].Index != 3 || a.Chunks[1].Score != 0.6 {
		t.Fatalf("merged alpha = %+v", a)
	}
	if a.OriginName != ha[:8]+".pdf" || a.Status != string(types.StatusIndexed) {
		t.Fatalf("alpha not enriched: %+v", a.File)
	}
	if !strings.HasPrefix(a.RawURL, "memory://objects/") || !strings.Contains(a.TextURL, "derivatives/") {
		t.Fatalf("alpha links = %q %q", a.RawURL, a.TextURL)
	}
	if res[1].TextURL != "" {
		t.Fatalf("synced file must not link text: %q", res[1].TextURL)
	}
}

func TestSearchLimitAndValidation(t *testing.T) {
	ha, hb := testutil.Hash("alpha"), testutil.Hash("beta")
	idx := &fakeIndex{hits: map[string][]indexer.Hit{
		"q": {{ContentHash: ha, Score: 0.2}, {ContentHash: hb, Score: 0.3}},
	}}
	svc, _, _ := setup(t, idx)
	if _, err := svc.Search(context.Background(), []string{"", "  "}, 5); !errors.Is(err, ErrNoQuery) {
		t.Fatalf("err = %v", err)
	}
	res, err := svc.Search(context.Background(), []string{"q"}, 1)
	if err != nil || len(res) != 1 || res[0].ContentHash != hb {
		t.Fatalf("res = %+v err=%v", res, err)
	}
}

func TestSearchCachesRecords(t *testing.T) {
	ha := testutil.Hash("alpha")
	idx := &fakeIndex{hits: map[string][]indexer.Hit{"q": {{ContentHash: ha, Score: 1}}}}
	svc, lookup, _ := setup(t, idx)
	for i := 0; i < 3; i++ {
		if _, err := svc.Search(context.Background(), []string{"q"}, 5); err != nil {
			t.Fatalf("Search: %v", err)
		}
	}
	if lookup.getMany != 1 {
		t.Fatalf("GetMany calls = %d, want 1", lookup.getMany)
	}
	svc.Forget()
	if _, err := svc.Search(context.Background(), []string{"q"}, 5); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if lookup.getMany != 2 {
		t.Fatalf("GetMany calls after Forget = %d", lookup.getMany)
	}
}

func TestSearchIndexErrorAndOrphanHits(t *testing.T) {
	svc, _, _ := setup(t, &fakeIndex{err: errors.New("qdrant down")})
	if _, err := svc.Search(context.Background(), []string{"q"}, 5); err == nil {
		t.Fatalf("expected index error")
	}

	orphan := testutil.Hash("purged")
	svc, _, _ = setup(t, &fakeIndex{hits: map[string][]indexer.Hit{"q": {{ContentHash: orphan, Score: 1, DisplayName: "old.pdf"}}}})
	res, err := svc.Search(context.Background(), []string{"q"}, 5)
	if err != nil || len(res) != 1 || res[0].OriginName != "old.pdf" || res[0].RawURL != "" {
		t.Fatalf("orphan = %+v err=%v", res, err)
	}
}

func TestFile(t *testing.T) {
	svc, _, recs := setup(t, &fakeIndex{})
	f, err := svc.File(context.Background(), recs[0].ContentHash)
	if err != nil || f.OriginPath != recs[0].OriginPath || f.RawURL == "" {
		t.Fatalf("File = %+v err=%v", f, err)
	}
	if _, err := svc.File(context.Background(), testutil.Hash("nope")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
	if _, err := svc.File(context.Background(), "../../etc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("invalid err = %v", err)
	}
}
