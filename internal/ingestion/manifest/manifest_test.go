package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	"github.com/yungbote/docingest-backend/internal/data/repos/testutil"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

type countingSnapshot struct {
	Snapshot
	saves int
}

func (c *countingSnapshot) Save(ctx context.Context, data []byte) error {
	c.saves++
	return c.Snapshot.Save(ctx, data)
}

// hookSnapshot runs onSave once, while the first save is in flight.
type hookSnapshot struct {
	Snapshot
	onSave func()
	saves  int
}

func (h *hookSnapshot) Save(ctx context.Context, data []byte) error {
	h.saves++
	if fn := h.onSave; fn != nil {
		h.onSave = nil
		fn()
	}
	return h.Snapshot.Save(ctx, data)
}

func TestFlushKeepsRecordsMadeDuringSave(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "manifest.json")
	snap := &hookSnapshot{Snapshot: NewFileSnapshot(path)}
	m := New(snap, logger.Nop())

	m.Record("drive-1", Entry{ContentHash: "h1", StorageKey: "objects/h1", OriginName: "a.pdf"})
	snap.onSave = func() {
		m.Record("drive-2", Entry{ContentHash: "h2", StorageKey: "objects/h2", OriginName: "b.pdf"})
	}
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if on := New(NewFileSnapshot(path), logger.Nop()); !on.Load(ctx) || on.Len() != 1 {
		t.Fatalf("first snapshot should hold only drive-1")
	}

	if err := m.Flush(ctx); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if snap.saves != 2 {
		t.Fatalf("record made during save was not flushed: saves=%d", snap.saves)
	}
	reloaded := New(NewFileSnapshot(path), logger.Nop())
	if !reloaded.Load(ctx) {
		t.Fatalf("Load failed after flush")
	}
	if e, ok := reloaded.Lookup("drive-2"); !ok || e.ContentHash != "h2" {
		t.Fatalf("Lookup(drive-2) = %+v, %v", e, ok)
	}

	if err := m.Flush(ctx); err != nil {
		t.Fatalf("third Flush: %v", err)
	}
	if snap.saves != 2 {
		t.Fatalf("clean manifest was saved again: saves=%d", snap.saves)
	}
}

func TestFileSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "manifest.json")
	snap := &countingSnapshot{Snapshot: NewFileSnapshot(path)}

	m := New(snap, logger.Nop())
	if m.Load(ctx) {
		t.Fatalf("Load reported a snapshot before any flush")
	}
	mod := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Record("drive-1", Entry{ContentHash: "h1", StorageKey: "objects/h1", OriginName: "a.pdf", ModifiedTime: mod})
	m.Record("drive-2", Entry{ContentHash: "h1", StorageKey: "objects/h1", OriginName: "b.pdf", ModifiedTime: mod})
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if snap.saves != 1 {
		t.Fatalf("clean manifest was saved again: saves=%d", snap.saves)
	}

	reloaded := New(NewFileSnapshot(path), logger.Nop())
	if !reloaded.Load(ctx) {
		t.Fatalf("Load failed after flush")
	}
	e, ok := reloaded.Lookup("drive-2")
	if !ok || e.ContentHash != "h1" || e.OriginName != "b.pdf" || !e.ModifiedTime.Equal(mod) {
		t.Fatalf("Lookup = %+v, %v", e, ok)
	}
	if got := reloaded.Origins("h1"); len(got) != 2 {
		t.Fatalf("Origins = %v", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, de := range entries {
		if strings.Contains(de.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", de.Name())
		}
	}
}

func TestLoadCorruptSnapshotStartsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "manifest.json")
	for _, body := range []string{"{not json", `{"version":99,"entries":{"x":{"content_hash":"h"}}}`} {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		m := New(NewFileSnapshot(path), logger.Nop())
		m.Record("stale", Entry{ContentHash: "old"})
		if m.Load(ctx) {
			t.Fatalf("Load accepted %q", body)
		}
		if m.Len() != 0 {
			t.Fatalf("manifest not empty after corrupt load")
		}
	}
}

func TestObjectSnapshot(t *testing.T) {
	ctx := context.Background()
	backend := contentstore.NewMemoryBackend()
	m := New(NewObjectSnapshot(backend, ""), logger.Nop())
	m.Record("o1", Entry{ContentHash: "h", StorageKey: "k", OriginName: "n"})
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if ok, _ := backend.Exists(ctx, "manifest/manifest.json"); !ok {
		t.Fatalf("snapshot object missing")
	}
	other := New(NewObjectSnapshot(backend, ""), logger.Nop())
	if !other.Load(ctx) || other.Len() != 1 {
		t.Fatalf("object snapshot did not reload")
	}
	if err := other.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if other.Len() != 0 {
		t.Fatalf("Reset kept entries")
	}
	if New(NewObjectSnapshot(backend, ""), logger.Nop()).Load(ctx) {
		t.Fatalf("snapshot survived Reset")
	}
}

func TestRedisSnapshot(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	snap := NewRedisSnapshot(rdb, "docingest:test:manifest:"+t.Name())
	t.Cleanup(func() { _ = snap.Delete(ctx) })

	m := New(snap, logger.Nop())
	if m.Load(ctx) {
		t.Fatalf("unexpected snapshot")
	}
	m.Record("o1", Entry{ContentHash: "h"})
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !New(snap, logger.Nop()).Load(ctx) {
		t.Fatalf("redis snapshot did not reload")
	}
}

func TestRebuildFromOriginTable(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := contentrepo.NewStateStore(db, logger.Nop())
	mod := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	for i, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		h := testutil.Hash(name)
		if i == 2 {
			h = testutil.Hash("a.pdf")
		}
		if err := repo.RecordOrigin(dbctx.Of(ctx), &types.OriginFile{
			OriginID:     "id-" + name,
			ContentHash:  h,
			StorageKey:   "objects/" + h,
			OriginName:   name,
			OriginPath:   "docs/" + name,
			ModifiedTime: &mod,
		}); err != nil {
			t.Fatalf("RecordOrigin: %v", err)
		}
	}
	// Failed origins have no content hash and are not part of the manifest.
	if err := repo.MarkOriginFailed(dbctx.Of(ctx), &types.OriginFile{OriginID: "id-broken", OriginName: "x.pdf"}, types.ErrorSourceUnavailable, "boom"); err != nil {
		t.Fatalf("MarkOriginFailed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := New(NewFileSnapshot(path), logger.Nop())
	if err := m.LoadOrRebuild(ctx, repo); err != nil {
		t.Fatalf("LoadOrRebuild: %v", err)
	}
	if m.Len() != 3 {
		t.Fatalf("entries = %d, want 3", m.Len())
	}
	e, ok := m.Lookup("id-c.pdf")
	if !ok || e.ContentHash != testutil.Hash("a.pdf") || e.OriginPath != "docs/c.pdf" || !e.ModifiedTime.Equal(mod) {
		t.Fatalf("Lookup = %+v %v", e, ok)
	}
	if !New(NewFileSnapshot(path), logger.Nop()).Load(ctx) {
		t.Fatalf("rebuild did not flush a valid snapshot")
	}
}
