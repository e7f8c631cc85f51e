package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gorm.io/datatypes"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/ingestion/extractor"
	"github.com/yungbote/docingest-backend/internal/ingestion/pool"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

// ExtractTask is the unit of processing work. It is serialized to worker processes.
type ExtractTask struct {
	ContentHash string `json:"content_hash"`
	StorageKey  string `json:"storage_key"`
	OriginName  string `json:"origin_name"`
	OriginPath  string `json:"origin_path"`
	Extension   string `json:"extension"`
	MimeType    string `json:"mime_type,omitempty"`
}

type ExtractOutcome struct {
	CharCount    int      `json:"char_count"`
	ElementCount int      `json:"element_count"`
	PageCount    int      `json:"page_count"`
	Extractor    string   `json:"extractor"`
	Languages    []string `json:"languages,omitempty"`
}

type ExtractPool = pool.Pool[ExtractTask, ExtractOutcome]

// Processor turns one stored blob into a derived artifact. It runs in-process or inside an
// extract-worker process.
type Processor struct {
	log       *logger.Logger
	store     *contentstore.Store
	extractor extractor.Extractor
	languages *extractor.LanguageRules
}

func NewProcessor(log *logger.Logger, store *contentstore.Store, ex extractor.Extractor, langs *extractor.LanguageRules) *Processor {
	if langs == nil {
		langs = extractor.DefaultLanguageRules()
	}
	return &Processor{log: log.With("component", "Processor"), store: store, extractor: ex, languages: langs}
}

func (p *Processor) Extract(ctx context.Context, t ExtractTask) (ExtractOutcome, error) {
	data, err := p.store.Get(ctx, t.StorageKey)
	if err != nil {
		return ExtractOutcome{}, fail(types.ErrorStorageFailure, "get object", err)
	}
	langs := p.languages.Detect(t.OriginPath)
	if t.OriginPath == "" {
		langs = p.languages.Detect(t.OriginName)
	}
	res, err := p.extractor.Extract(ctx, extractor.Request{
		Data:      data,
		Name:      t.OriginName,
		Extension: t.Extension,
		MimeType:  t.MimeType,
		Languages: langs,
	})
	if err != nil {
		return ExtractOutcome{}, fail(types.ErrorExtraction, "extract", err)
	}
	if res == nil || len([]rune(res.Text)) == 0 {
		return ExtractOutcome{}, fail(types.ErrorExtraction, "extract", extractor.ErrEmptyText)
	}
	if len(res.Languages) > 0 {
		langs = res.Languages
	}
	out := ExtractOutcome{
		CharCount:    len([]rune(res.Text)),
		ElementCount: len(res.Elements),
		PageCount:    res.PageCount,
		Extractor:    res.Extractor,
		Languages:    langs,
	}
	art := &contentstore.Artifact{
		Text:     res.Text,
		Elements: res.Elements,
		Meta: contentstore.ArtifactMeta{
			CharCount:    out.CharCount,
			ElementCount: out.ElementCount,
			PageCount:    out.PageCount,
			Extractor:    out.Extractor,
			Languages:    out.Languages,
		},
	}
	if _, err := p.store.PutArtifact(ctx, t.ContentHash, art); err != nil {
		return ExtractOutcome{}, fail(types.ErrorStorageFailure, "put artifact", err)
	}
	return out, nil
}

// ServeExtractWorker runs the worker side of the process pool on stdin and stdout.
func (p *Processor) ServeExtractWorker(ctx context.Context, in io.Reader, out io.Writer) error {
	return pool.ServeWorker(ctx, in, out, p.Extract, kindString)
}

// ProcessingEngine extracts text for synced records.
type ProcessingEngine struct {
	log       *logger.Logger
	states    contentrepo.StateStore
	processor *Processor
	obs       Observer
	newPool   func(opts Options) (ExtractPool, error)
}

// NewProcessingEngine builds the engine. workerCommand starts an extract-worker process and is
// used when a run asks for the process pool.
func NewProcessingEngine(log *logger.Logger, states contentrepo.StateStore, processor *Processor, workerCommand []string, obs Observer) *ProcessingEngine {
	e := &ProcessingEngine{
		log:       log.With("component", "ProcessingEngine"),
		states:    states,
		processor: processor,
		obs:       observerOrNop(obs),
	}
	e.newPool = func(opts Options) (ExtractPool, error) {
		if opts.UseProcessPool {
			return pool.NewProcessPool[ExtractTask, ExtractOutcome](e.log, pool.ProcessConfig{
				Command: workerCommand,
				Workers: opts.ParallelWorkers,
			})
		}
		return pool.NewGoroutinePool(opts.ParallelWorkers, processor.Extract), nil
	}
	return e
}

// WithPoolFactory replaces how the per-run worker pool is built.
func (e *ProcessingEngine) WithPoolFactory(f func(opts Options) (ExtractPool, error)) *ProcessingEngine {
	e.newPool = f
	return e
}

func (e *ProcessingEngine) Run(ctx context.Context, opts Options) (*StageReport, error) {
	opts = opts.normalized()
	var p ExtractPool
	if !opts.DryRun {
		var err error
		if p, err = e.newPool(opts); err != nil {
			return nil, fmt.Errorf("processing pool: %w", err)
		}
		defer p.Close()
	}
	e.log.Info("Processing started", "workers", opts.ParallelWorkers, "process_pool", opts.UseProcessPool, "chunk_size", opts.ChunkSize, "retry_failed", opts.RetryFailed)
	return runStage(ctx, e.log, e.states, e.obs, p, opts, stageDef[ExtractTask, ExtractOutcome]{
		stage:    types.StageProcess,
		fallback: types.ErrorExtraction,
		task: func(rec *types.ContentRecord) ExtractTask {
			return ExtractTask{
				ContentHash: rec.ContentHash,
				StorageKey:  rec.StorageKey,
				OriginName:  rec.OriginName,
				OriginPath:  rec.OriginPath,
				Extension:   rec.Extension,
				MimeType:    rec.MimeType,
			}
		},
		onSuccess: func(rec *types.ContentRecord, out ExtractOutcome) map[string]interface{} {
			fields := map[string]interface{}{
				"char_count":    out.CharCount,
				"element_count": out.ElementCount,
				"page_count":    out.PageCount,
			}
			if meta, err := json.Marshal(map[string]any{"extractor": out.Extractor, "languages": out.Languages}); err == nil {
				fields["meta"] = datatypes.JSON(meta)
			}
			return fields
		},
	})
}
