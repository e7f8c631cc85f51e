package indexer

import (
	"context"
	"errors"
)

// ErrEmptyDocument is returned when text yields no chunks.
var ErrEmptyDocument = errors.New("indexer: document has no indexable text")

type Hit struct {
	ContentHash string
	ChunkIndex  int
	ChunkText   string
	Score       float64
	IndexHandle string
	DisplayName string
}

// Index is the semantic index collaborator. Upload replaces any earlier upload of the same
// content hash and returns a stable handle.
type Index interface {
	Upload(ctx context.Context, contentHash, text, displayName string) (string, error)
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	Purge(ctx context.Context) error
}
