package pipeline

import (
	"context"
	"fmt"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/ingestion/indexer"
	"github.com/yungbote/docingest-backend/internal/ingestion/pool"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

type IndexTask struct {
	ContentHash string
	DisplayName string
}

type IndexPool = pool.Pool[IndexTask, string]

// IndexingEngine uploads derived text of processed records to the semantic index.
type IndexingEngine struct {
	log     *logger.Logger
	states  contentrepo.StateStore
	store   *contentstore.Store
	index   indexer.Index
	obs     Observer
	newPool func(opts Options) (IndexPool, error)
}

func NewIndexingEngine(log *logger.Logger, states contentrepo.StateStore, store *contentstore.Store, index indexer.Index, obs Observer) *IndexingEngine {
	e := &IndexingEngine{
		log:    log.With("component", "IndexingEngine"),
		states: states,
		store:  store,
		index:  index,
		obs:    observerOrNop(obs),
	}
	e.newPool = func(opts Options) (IndexPool, error) {
		return pool.NewGoroutinePool(opts.IndexWorkers, e.upload), nil
	}
	return e
}

func (e *IndexingEngine) WithPoolFactory(f func(opts Options) (IndexPool, error)) *IndexingEngine {
	e.newPool = f
	return e
}

func (e *IndexingEngine) upload(ctx context.Context, t IndexTask) (string, error) {
	text, err := e.store.GetText(ctx, t.ContentHash)
	if err != nil {
		return "", fail(types.ErrorStorageFailure, "get text", err)
	}
	handle, err := e.index.Upload(ctx, t.ContentHash, text, t.DisplayName)
	if err != nil {
		return "", fail(types.ErrorIndex, "upload", err)
	}
	if handle == "" {
		return "", fail(types.ErrorIndex, "upload", fmt.Errorf("index returned no handle"))
	}
	return handle, nil
}

func (e *IndexingEngine) Run(ctx context.Context, opts Options) (*StageReport, error) {
	opts = opts.normalized()
	var p IndexPool
	if !opts.DryRun {
		var err error
		if p, err = e.newPool(opts); err != nil {
			return nil, fmt.Errorf("indexing pool: %w", err)
		}
		defer p.Close()
	}
	e.log.Info("Indexing started", "workers", opts.IndexWorkers, "chunk_size", opts.ChunkSize, "retry_failed", opts.RetryFailed)
	return runStage(ctx, e.log, e.states, e.obs, p, opts, stageDef[IndexTask, string]{
		stage:    types.StageIndex,
		fallback: types.ErrorIndex,
		task: func(rec *types.ContentRecord) IndexTask {
			name := rec.OriginName
			if name == "" {
				name = rec.ContentHash
			}
			return IndexTask{ContentHash: rec.ContentHash, DisplayName: name}
		},
		onSuccess: func(rec *types.ContentRecord, handle string) map[string]interface{} {
			return map[string]interface{}{"index_handle": handle}
		},
	})
}
