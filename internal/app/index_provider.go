package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/docingest-backend/internal/ingestion/indexer"
	"github.com/yungbote/docingest-backend/internal/observability"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
	"github.com/yungbote/docingest-backend/internal/platform/openai"
	"github.com/yungbote/docingest-backend/internal/platform/qdrant"
)

type IndexProvider string

const (
	IndexProviderQdrant IndexProvider = "qdrant"
	IndexProviderMemory IndexProvider = "memory"
)

var (
	newQdrantCollection = func(log *logger.Logger, cfg qdrant.Config) (indexer.VectorCollection, error) {
		return qdrant.New(log, cfg, nil)
	}
	newEmbedder = func(log *logger.Logger, cfg openai.Config) (openai.Embedder, error) {
		return openai.NewClient(log, cfg, nil)
	}
)

type IndexProviderBootstrapErrorCode string

const (
	IndexProviderBootstrapErrorInvalidProvider     IndexProviderBootstrapErrorCode = "invalid_provider"
	IndexProviderBootstrapErrorMissingQdrantURL    IndexProviderBootstrapErrorCode = "missing_qdrant_url"
	IndexProviderBootstrapErrorInvalidQdrantURL    IndexProviderBootstrapErrorCode = "invalid_qdrant_url"
	IndexProviderBootstrapErrorMissingQdrantColl   IndexProviderBootstrapErrorCode = "missing_qdrant_collection"
	IndexProviderBootstrapErrorInvalidQdrantVector IndexProviderBootstrapErrorCode = "invalid_qdrant_vector_dim"
	IndexProviderBootstrapErrorQdrantConfigFailed  IndexProviderBootstrapErrorCode = "qdrant_config_failed"
	IndexProviderBootstrapErrorMissingEmbedderKey  IndexProviderBootstrapErrorCode = "missing_embedder_key"
	IndexProviderBootstrapErrorConnectFailed       IndexProviderBootstrapErrorCode = "connect_failed"
)

type IndexProviderBootstrapError struct {
	Code     IndexProviderBootstrapErrorCode
	Provider string
	Cause    error
}

func (e *IndexProviderBootstrapError) Error() string {
	if e == nil {
		return "index provider bootstrap failed"
	}
	return fmt.Sprintf("index provider bootstrap failed (code=%s provider=%q): %v", e.Code, e.Provider, e.Cause)
}

func (e *IndexProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveIndex builds the index collaborator. Qdrant needs an embeddings key and a reachable
// collection; memory is for local runs and tests.
func resolveIndex(ctx context.Context, log *logger.Logger, cfg Config) (indexer.Index, error) {
	provider := IndexProvider(strings.ToLower(strings.TrimSpace(cfg.IndexProvider)))
	metrics := observability.Current()

	fail := func(err error) (indexer.Index, error) {
		code := IndexProviderBootstrapErrorConnectFailed
		var bootstrapErr *IndexProviderBootstrapError
		if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
			code = bootstrapErr.Code
		}
		metrics.ObserveBootstrap("index", string(provider), "error", string(code))
		log.Error("Index provider bootstrap failed", "provider", provider, "error_code", code, "error", err)
		return nil, err
	}

	log.Info("Selecting index provider", "provider", provider)
	var idx indexer.Index
	switch provider {
	case IndexProviderMemory:
		idx = indexer.NewMemoryIndex(cfg.ChunkChars)
	case IndexProviderQdrant:
		qcfg, err := qdrant.ResolveConfigFromEnv()
		if err != nil {
			return fail(mapQdrantConfigError(err))
		}
		ocfg := openai.ConfigFromEnv()
		if ocfg.APIKey == "" {
			return fail(&IndexProviderBootstrapError{
				Code:     IndexProviderBootstrapErrorMissingEmbedderKey,
				Provider: string(provider),
				Cause:    errors.New("OPENAI_API_KEY is required for the qdrant index"),
			})
		}
		coll, err := newQdrantCollection(log, qcfg)
		if err != nil {
			return fail(mapQdrantConfigError(err))
		}
		emb, err := newEmbedder(log, ocfg)
		if err != nil {
			return fail(&IndexProviderBootstrapError{Code: IndexProviderBootstrapErrorMissingEmbedderKey, Provider: string(provider), Cause: err})
		}
		q := indexer.NewQdrantIndex(log, emb, coll, indexer.QdrantConfig{
			ChunkChars:   cfg.ChunkChars,
			ChunkOverlap: cfg.ChunkOverlap,
		})
		if err := q.Ensure(ctx); err != nil {
			return fail(&IndexProviderBootstrapError{Code: IndexProviderBootstrapErrorConnectFailed, Provider: string(provider), Cause: err})
		}
		idx = q
	default:
		return fail(&IndexProviderBootstrapError{
			Code:     IndexProviderBootstrapErrorInvalidProvider,
			Provider: string(provider),
			Cause:    fmt.Errorf("unsupported index provider %q", provider),
		})
	}
	metrics.ObserveBootstrap("index", string(provider), "success", "none")
	return instrumentIndex(string(provider), idx, metrics), nil
}

func mapQdrantConfigError(err error) error {
	code := IndexProviderBootstrapErrorQdrantConfigFailed
	var qerr *qdrant.ConfigError
	if errors.As(err, &qerr) {
		switch qerr.Code {
		case qdrant.ConfigErrorMissingURL:
			code = IndexProviderBootstrapErrorMissingQdrantURL
		case qdrant.ConfigErrorInvalidURL:
			code = IndexProviderBootstrapErrorInvalidQdrantURL
		case qdrant.ConfigErrorMissingCollection:
			code = IndexProviderBootstrapErrorMissingQdrantColl
		case qdrant.ConfigErrorInvalidVectorDim:
			code = IndexProviderBootstrapErrorInvalidQdrantVector
		}
	}
	return &IndexProviderBootstrapError{Code: code, Provider: string(IndexProviderQdrant), Cause: err}
}
