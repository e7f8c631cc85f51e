package pipeline

import (
	"errors"
	"fmt"

	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/ingestion/extractor"
	"github.com/yungbote/docingest-backend/internal/ingestion/indexer"
	"github.com/yungbote/docingest-backend/internal/ingestion/pool"
)

// ErrStateStore marks a failure of the state store itself. It aborts the run instead of being
// recorded against a file.
var ErrStateStore = errors.New("pipeline: state store unavailable")

// Error is a per-file failure with its classification.
type Error struct {
	Kind types.ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(kind types.ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func stateErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStateStore, err)
}

// KindOf classifies err, returning fallback when nothing in the chain carries a kind.
func KindOf(err error, fallback types.ErrorKind) types.ErrorKind {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind != "" {
		return pe.Kind
	}
	var re *pool.RemoteError
	if errors.As(err, &re) && re.Kind != "" {
		return types.ErrorKind(re.Kind)
	}
	switch {
	case errors.Is(err, extractor.ErrEmptyText), errors.Is(err, extractor.ErrUnsupported):
		return types.ErrorExtraction
	case errors.Is(err, indexer.ErrEmptyDocument):
		return types.ErrorIndex
	case errors.Is(err, contentstore.ErrNotFound):
		return types.ErrorStorageFailure
	case errors.Is(err, pool.ErrWorkerCrashed):
		return types.ErrorExtraction
	}
	return fallback
}

// kindString is the process pool's classifier for errors crossing the worker boundary.
func kindString(err error) string {
	return string(KindOf(err, types.ErrorExtraction))
}
