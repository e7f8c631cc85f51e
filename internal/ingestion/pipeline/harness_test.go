package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	"github.com/yungbote/docingest-backend/internal/data/repos/testutil"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/ingestion/extractor"
	"github.com/yungbote/docingest-backend/internal/ingestion/indexer"
	"github.com/yungbote/docingest-backend/internal/ingestion/manifest"
	"github.com/yungbote/docingest-backend/internal/ingestion/source"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

var errSourceDown = errors.New("source: 503 backend error")

type fakeFile struct {
	id, path string
	body     []byte
	mod      time.Time
	openErr  error
}

// fakeLister serves a mutable set of files and counts how often each is opened.
type fakeLister struct {
	mu    sync.Mutex
	files []*fakeFile
	opens map[string]int
}

func newFakeLister() *fakeLister { return &fakeLister{opens: map[string]int{}} }

func (l *fakeLister) Name() string { return "fake" }

func (l *fakeLister) put(id, path, body string, mod time.Time) *fakeFile {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.files {
		if f.id == id {
			f.path, f.body, f.mod = path, []byte(body), mod
			return f
		}
	}
	f := &fakeFile{id: id, path: path, body: []byte(body), mod: mod}
	l.files = append(l.files, f)
	return f
}

func (l *fakeLister) openCount(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens[id]
}

func (l *fakeLister) totalOpens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.opens {
		n += c
	}
	return n
}

func (l *fakeLister) ListChangedSince(ctx context.Context, since time.Time, fn func(source.RemoteFile) error) error {
	l.mu.Lock()
	files := append([]*fakeFile(nil), l.files...)
	l.mu.Unlock()
	for _, f := range files {
		if !since.IsZero() && !f.mod.After(since) {
			continue
		}
		f := f
		rf := source.NewRemoteFile(source.RemoteFile{
			OriginID:     f.id,
			OriginPath:   f.path,
			OriginName:   filepath.Base(f.path),
			ModifiedTime: f.mod,
		}, func(context.Context) (io.ReadCloser, error) {
			l.mu.Lock()
			l.opens[f.id]++
			l.mu.Unlock()
			if f.openErr != nil {
				return nil, f.openErr
			}
			return io.NopCloser(bytes.NewReader(f.body)), nil
		})
		if err := fn(rf); err != nil {
			return err
		}
	}
	return nil
}

// fakeExtractor returns the input bytes as text and can be told to fail per file name.
type fakeExtractor struct {
	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{fail: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeExtractor) setFail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, name)
		return
	}
	f.fail[name] = err
}

func (f *fakeExtractor) Extract(ctx context.Context, req extractor.Request) (*extractor.Result, error) {
	f.mu.Lock()
	f.calls[req.Name]++
	err := f.fail[req.Name]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	text := string(req.Data)
	return &extractor.Result{
		Text:      text,
		Elements:  []contentstore.Element{{Type: "paragraph", Text: text, Page: 1}},
		PageCount: 1,
		Extractor: "fake",
		Languages: req.Languages,
	}, nil
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	db       *gorm.DB
	states   contentrepo.StateStore
	backend  *contentstore.MemoryBackend
	store    *contentstore.Store
	manifest *manifest.Manifest
	lister   *fakeLister
	ex       *fakeExtractor
	index    *indexer.MemoryIndex
	runner   *Runner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.Nop()
	db := testutil.DB(t)
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		db:      db,
		states:  contentrepo.NewStateStore(db, log),
		backend: contentstore.NewMemoryBackend(),
		lister:  newFakeLister(),
		ex:      newFakeExtractor(),
		index:   indexer.NewMemoryIndex(500),
	}
	h.store = contentstore.New(h.backend, log)
	h.manifest = manifest.New(manifest.NewFileSnapshot(filepath.Join(t.TempDir(), "manifest.json")), log)
	processor := NewProcessor(log, h.store, h.ex, nil)
	h.runner = NewRunner(RunnerDeps{
		Log:      log,
		Sync:     NewSyncEngine(log, h.states, h.store, h.manifest, h.lister, nil),
		Process:  NewProcessingEngine(log, h.states, processor, nil, nil),
		Index:    NewIndexingEngine(log, h.states, h.store, h.index, nil),
		States:   h.states,
		Store:    h.store,
		Manifest: h.manifest,
		Indexer:  h.index,
	})
	return h
}

func (h *harness) run(stage types.Stage, opts Options) *StageReport {
	h.t.Helper()
	rep, err := h.runner.Run(h.ctx, []types.Stage{stage}, opts)
	if err != nil {
		h.t.Fatalf("%s run: %v", stage, err)
	}
	return rep.Stage(stage)
}

func (h *harness) record(hash string) *types.ContentRecord {
	h.t.Helper()
	rec, err := h.states.Get(dbctx.Of(h.ctx), hash)
	if err != nil {
		h.t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		h.t.Fatalf("no record for %s", hash)
	}
	return rec
}

// age moves a record's updated_at into the past.
func (h *harness) age(hash string, by time.Duration) {
	h.t.Helper()
	err := h.db.Model(&types.ContentRecord{}).
		Where("content_hash = ?", hash).
		UpdateColumn("updated_at", time.Now().UTC().Add(-by)).Error
	if err != nil {
		h.t.Fatalf("age %s: %v", hash, err)
	}
}

func (h *harness) count() int64 {
	h.t.Helper()
	stats, err := h.states.Stats(dbctx.Of(h.ctx))
	if err != nil {
		h.t.Fatalf("Stats: %v", err)
	}
	return stats.Total
}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

var t0 = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
