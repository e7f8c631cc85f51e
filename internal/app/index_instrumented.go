package app

import (
	"context"
	"time"

	"github.com/yungbote/docingest-backend/internal/ingestion/indexer"
	"github.com/yungbote/docingest-backend/internal/observability"
)

type instrumentedIndex struct {
	provider string
	inner    indexer.Index
	metrics  *observability.Metrics
}

func instrumentIndex(provider string, inner indexer.Index, metrics *observability.Metrics) indexer.Index {
	if inner == nil || metrics == nil {
		return inner
	}
	return &instrumentedIndex{provider: provider, inner: inner, metrics: metrics}
}

func (s *instrumentedIndex) Upload(ctx context.Context, contentHash, text, displayName string) (string, error) {
	start := time.Now()
	handle, err := s.inner.Upload(ctx, contentHash, text, displayName)
	s.metrics.ObserveIndexOp(s.provider, "upload", err, time.Since(start))
	return handle, err
}

func (s *instrumentedIndex) Search(ctx context.Context, query string, limit int) ([]indexer.Hit, error) {
	start := time.Now()
	hits, err := s.inner.Search(ctx, query, limit)
	s.metrics.ObserveIndexOp(s.provider, "search", err, time.Since(start))
	return hits, err
}

func (s *instrumentedIndex) Purge(ctx context.Context) error {
	start := time.Now()
	err := s.inner.Purge(ctx)
	s.metrics.ObserveIndexOp(s.provider, "purge", err, time.Since(start))
	return err
}
