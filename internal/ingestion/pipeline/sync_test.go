package pipeline

import (
	"strings"
	"testing"
	"time"

	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
)

func TestSyncDeduplicatesIdenticalContent(t *testing.T) {
	h := newHarness(t)
	h.lister.put("drive-a", "inbox/a.pdf", "B1 bytes", t0)
	h.lister.put("drive-b", "other/b.pdf", "B1 bytes", t0)

	rep := h.run(types.StageSync, DefaultOptions())
	if rep.Successful != 2 || rep.Deduplicated != 1 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if n := h.count(); n != 1 {
		t.Fatalf("records = %d, want 1", n)
	}
	if h.backend.Puts() != 1 {
		t.Fatalf("object writes = %d, want 1", h.backend.Puts())
	}
	a, okA := h.manifest.Lookup("drive-a")
	b, okB := h.manifest.Lookup("drive-b")
	if !okA || !okB || a.ContentHash != b.ContentHash || a.StorageKey != b.StorageKey {
		t.Fatalf("manifest entries differ: %+v %+v", a, b)
	}
	rec := h.record(sha("B1 bytes"))
	if rec.Status != types.StatusSynced || rec.StorageKey != a.StorageKey || rec.SyncedAt == nil {
		t.Fatalf("record = %+v", rec)
	}
}

func TestResyncWithoutChangesIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.lister.put("1", "a.pdf", "alpha", t0)
	h.lister.put("2", "b.pdf", "beta", t0.Add(time.Minute))
	h.run(types.StageSync, DefaultOptions())

	before, _ := h.states.Stats(dbctx.Of(h.ctx))
	puts, opens := h.backend.Puts(), h.lister.totalOpens()
	recBefore := h.record(sha("alpha"))

	for _, force := range []bool{false, true} {
		opts := DefaultOptions()
		opts.ForceFullSync = force
		rep := h.run(types.StageSync, opts)
		if rep.Successful != 0 || rep.Attempted != 0 || rep.Failed != 0 {
			t.Fatalf("force=%v report = %+v", force, rep)
		}
		if force && rep.Skipped != 2 {
			t.Fatalf("full resync skipped %d, want 2", rep.Skipped)
		}
	}
	if h.backend.Puts() != puts || h.lister.totalOpens() != opens {
		t.Fatalf("resync transferred data: puts %d->%d opens %d->%d", puts, h.backend.Puts(), opens, h.lister.totalOpens())
	}
	after, _ := h.states.Stats(dbctx.Of(h.ctx))
	for s, n := range before.ByStatus {
		if after.ByStatus[s] != n {
			t.Fatalf("status %s count changed %d -> %d", s, n, after.ByStatus[s])
		}
	}
	if recAfter := h.record(sha("alpha")); !recAfter.UpdatedAt.Equal(recBefore.UpdatedAt) {
		t.Fatalf("record touched by resync")
	}
}

func TestRenameDoesNotRetransfer(t *testing.T) {
	h := newHarness(t)
	h.lister.put("X", "reports/q1.pdf", "quarterly", t0)
	h.run(types.StageSync, DefaultOptions())
	if h.lister.openCount("X") != 1 {
		t.Fatalf("initial opens = %d", h.lister.openCount("X"))
	}

	h.lister.put("X", "archive/2024/q1-final.pdf", "quarterly", t0)
	opts := DefaultOptions()
	opts.ForceFullSync = true
	rep := h.run(types.StageSync, opts)
	if rep.Renamed != 1 || rep.Attempted != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if h.lister.openCount("X") != 1 {
		t.Fatalf("rename re-opened the file: opens=%d", h.lister.openCount("X"))
	}
	rec := h.record(sha("quarterly"))
	if rec.OriginPath != "archive/2024/q1-final.pdf" || rec.OriginName != "q1-final.pdf" || rec.Status != types.StatusSynced {
		t.Fatalf("record = %+v", rec)
	}
	e, _ := h.manifest.Lookup("X")
	if e.OriginPath != "archive/2024/q1-final.pdf" || e.ContentHash != rec.ContentHash {
		t.Fatalf("manifest entry = %+v", e)
	}
}

func TestChangedContentGetsNewRecord(t *testing.T) {
	h := newHarness(t)
	h.lister.put("X", "doc.txt", "version one", t0)
	h.run(types.StageSync, DefaultOptions())

	h.lister.put("X", "doc.txt", "version two", t0.Add(time.Hour))
	rep := h.run(types.StageSync, DefaultOptions())
	if rep.Successful != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if h.count() != 2 {
		t.Fatalf("records = %d, want old and new", h.count())
	}
	e, _ := h.manifest.Lookup("X")
	if e.ContentHash != sha("version two") {
		t.Fatalf("manifest not repointed: %+v", e)
	}
	if h.record(sha("version one")).Status != types.StatusSynced {
		t.Fatalf("old record changed")
	}
}

func TestSyncFailureIsIsolatedAndHoldsCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.lister.put("ok", "ok.pdf", "fine", t0)
	bad := h.lister.put("bad", "bad.pdf", "never read", t0.Add(time.Minute))
	bad.openErr = errSourceDown

	rep := h.run(types.StageSync, DefaultOptions())
	if rep.Successful != 1 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.ErrorKinds) != 1 || rep.ErrorKinds[0] != types.ErrorSourceUnavailable {
		t.Fatalf("error kinds = %v", rep.ErrorKinds)
	}
	if _, ok, _ := h.states.GetCheckpoint(dbctx.Of(h.ctx), types.CheckpointLastSync); ok {
		t.Fatalf("checkpoint advanced despite a failure")
	}
	if _, ok := h.manifest.Lookup("bad"); ok {
		t.Fatalf("failed origin recorded in manifest")
	}

	bad.openErr = nil
	rep = h.run(types.StageSync, DefaultOptions())
	if rep.Successful != 1 || rep.Failed != 0 || rep.Skipped != 1 {
		t.Fatalf("second report = %+v", rep)
	}
	cp, ok, _ := h.states.GetCheckpoint(dbctx.Of(h.ctx), types.CheckpointLastSync)
	if !ok || !strings.HasPrefix(cp, "2024-04-01T12:01:00") {
		t.Fatalf("checkpoint = %q %v", cp, ok)
	}
}

func TestSyncDryRunAndMaxFiles(t *testing.T) {
	h := newHarness(t)
	for i, name := range []string{"a", "b", "c", "d"} {
		h.lister.put(name, name+".txt", "body "+name, t0.Add(time.Duration(i)*time.Minute))
	}

	dry := DefaultOptions()
	dry.DryRun = true
	rep := h.run(types.StageSync, dry)
	if rep.Attempted != 4 || h.count() != 0 || h.lister.totalOpens() != 0 || h.manifest.Len() != 0 {
		t.Fatalf("dry run wrote state: report=%+v records=%d", rep, h.count())
	}

	capped := DefaultOptions()
	capped.MaxFiles = 3
	rep = h.run(types.StageSync, capped)
	if rep.Successful != 3 || h.count() != 3 {
		t.Fatalf("capped run = %+v records=%d", rep, h.count())
	}
	if _, ok, _ := h.states.GetCheckpoint(dbctx.Of(h.ctx), types.CheckpointLastSync); ok {
		t.Fatalf("checkpoint advanced on a capped listing")
	}
	rep = h.run(types.StageSync, DefaultOptions())
	if rep.Successful != 1 || h.count() != 4 {
		t.Fatalf("follow-up run = %+v", rep)
	}
}

func TestManifestSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	h.lister.put("X", "a.pdf", "content", t0)
	h.run(types.StageSync, DefaultOptions())

	// A fresh manifest over the same snapshot knows the origin without a transfer.
	h.manifest.Reset(h.ctx)
	if _, err := h.manifest.Rebuild(h.ctx, h.states); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	opts := DefaultOptions()
	opts.ForceFullSync = true
	rep := h.run(types.StageSync, opts)
	if rep.Skipped != 1 || h.lister.openCount("X") != 1 {
		t.Fatalf("rebuild lost the origin: report=%+v opens=%d", rep, h.lister.openCount("X"))
	}
}
