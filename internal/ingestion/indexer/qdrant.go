package indexer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/yungbote/docingest-backend/internal/pkg/httpx"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
	"github.com/yungbote/docingest-backend/internal/platform/openai"
	"github.com/yungbote/docingest-backend/internal/platform/qdrant"
)

// VectorCollection is the subset of qdrant.Collection the index needs.
type VectorCollection interface {
	Name() string
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []qdrant.Point) error
	Search(ctx context.Context, vector []float32, limit int, filter *qdrant.Filter) ([]qdrant.ScoredPoint, error)
	Delete(ctx context.Context, filter qdrant.Filter) error
	Drop(ctx context.Context) error
}

type QdrantConfig struct {
	ChunkChars   int
	ChunkOverlap int
	UpsertBatch  int
	Backoff      httpx.Backoff
}

type QdrantIndex struct {
	log      *logger.Logger
	embedder openai.Embedder
	coll     VectorCollection
	cfg      QdrantConfig
}

func NewQdrantIndex(log *logger.Logger, embedder openai.Embedder, coll VectorCollection, cfg QdrantConfig) *QdrantIndex {
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = 1200
	}
	if cfg.UpsertBatch <= 0 {
		cfg.UpsertBatch = 64
	}
	if cfg.Backoff.Multiplier == 0 {
		cfg.Backoff = httpx.DefaultBackoff()
	}
	return &QdrantIndex{log: log.With("component", "QdrantIndex"), embedder: embedder, coll: coll, cfg: cfg}
}

func (q *QdrantIndex) Ensure(ctx context.Context) error {
	return httpx.Retry(ctx, q.cfg.Backoff, func(int) error { return q.coll.EnsureCollection(ctx) })
}

// Handle is the index reference recorded for a content hash.
func (q *QdrantIndex) Handle(contentHash string) string {
	return "qdrant://" + q.coll.Name() + "/" + contentHash
}

func (q *QdrantIndex) Upload(ctx context.Context, contentHash, text, displayName string) (string, error) {
	chunks := SplitIntoChunks(text, q.cfg.ChunkChars, q.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return "", ErrEmptyDocument
	}
	inputs := make([]string, len(chunks))
	for i, c := range chunks {
		inputs[i] = c.Text
	}
	vecs, err := q.embedder.Embed(ctx, inputs)
	if err != nil {
		return "", fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}
	if len(vecs) != len(chunks) {
		return "", fmt.Errorf("embed: got %d vectors for %d chunks", len(vecs), len(chunks))
	}

	byHash := qdrant.Filter{Must: []qdrant.Condition{qdrant.FieldEquals("content_hash", contentHash)}}
	if err := httpx.Retry(ctx, q.cfg.Backoff, func(int) error { return q.coll.Delete(ctx, byHash) }); err != nil {
		return "", fmt.Errorf("delete previous points: %w", err)
	}

	handle := q.Handle(contentHash)
	points := make([]qdrant.Point, 0, len(chunks))
	for i, c := range chunks {
		points = append(points, qdrant.Point{
			ID:     qdrant.PointID(contentHash, strconv.Itoa(c.Index)),
			Vector: vecs[i],
			Payload: map[string]any{
				"content_hash": contentHash,
				"chunk_index":  c.Index,
				"text":         c.Text,
				"display_name": displayName,
				"index_handle": handle,
			},
		})
	}
	for start := 0; start < len(points); start += q.cfg.UpsertBatch {
		end := start + q.cfg.UpsertBatch
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]
		if err := httpx.Retry(ctx, q.cfg.Backoff, func(int) error { return q.coll.Upsert(ctx, batch) }); err != nil {
			return "", fmt.Errorf("upsert points %d-%d: %w", start, end, err)
		}
	}
	q.log.Debug("Indexed document", "content_hash", contentHash, "chunks", len(chunks))
	return handle, nil
}

func (q *QdrantIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	vecs, err := q.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	var points []qdrant.ScoredPoint
	err = httpx.Retry(ctx, q.cfg.Backoff, func(int) error {
		var serr error
		points, serr = q.coll.Search(ctx, vecs[0], limit, nil)
		return serr
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		h := Hit{Score: p.Score}
		h.ContentHash, _ = p.Payload["content_hash"].(string)
		h.ChunkText, _ = p.Payload["text"].(string)
		h.DisplayName, _ = p.Payload["display_name"].(string)
		h.IndexHandle, _ = p.Payload["index_handle"].(string)
		switch v := p.Payload["chunk_index"].(type) {
		case float64:
			h.ChunkIndex = int(v)
		case int:
			h.ChunkIndex = v
		}
		if h.ContentHash == "" {
			continue
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (q *QdrantIndex) Purge(ctx context.Context) error {
	if err := q.coll.Drop(ctx); err != nil {
		return err
	}
	return q.Ensure(ctx)
}
