package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/ingestion/indexer"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/docingest-backend/internal/pkg/errors"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

var (
	ErrNoQuery  = pkgerrors.Invalid("search: at least one non-empty query is required")
	ErrNotFound = fmt.Errorf("search: file %w", pkgerrors.ErrNotFound)
)

// RecordLookup is the slice of the StateStore the read path needs.
type RecordLookup interface {
	Get(dbc dbctx.Context, contentHash string) (*types.ContentRecord, error)
	GetMany(dbc dbctx.Context, contentHashes []string) ([]*types.ContentRecord, error)
}

var _ RecordLookup = contentrepo.StateStore(nil)

type Config struct {
	CacheSize    int
	CacheTTL     time.Duration
	SignedURLTTL time.Duration
	// PerQueryLimit is how many chunk hits each query asks the index for.
	PerQueryLimit int
	MaxLimit      int
}

func DefaultConfig() Config {
	return Config{CacheSize: 1024, CacheTTL: 5 * time.Minute, SignedURLTTL: time.Hour, PerQueryLimit: 50, MaxLimit: 100}
}

type Chunk struct {
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

type Result struct {
	ContentHash string  `json:"content_hash"`
	Score       float64 `json:"score"`
	Chunks      []Chunk `json:"chunks"`
	File
}

// File is a content record as the read API exposes it.
type File struct {
	OriginName string     `json:"origin_name,omitempty"`
	OriginPath string     `json:"origin_path,omitempty"`
	MimeType   string     `json:"mime_type,omitempty"`
	SizeBytes  int64      `json:"size_bytes,omitempty"`
	Status     string     `json:"status,omitempty"`
	IndexedAt  *time.Time `json:"indexed_at,omitempty"`
	RawURL     string     `json:"raw_url,omitempty"`
	TextURL    string     `json:"text_url,omitempty"`
}

type Service struct {
	log     *logger.Logger
	index   indexer.Index
	records RecordLookup
	store   *contentstore.Store
	cfg     Config
	cache   *expirable.LRU[string, *types.ContentRecord]
}

func NewService(log *logger.Logger, index indexer.Index, records RecordLookup, store *contentstore.Store, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = def.SignedURLTTL
	}
	if cfg.PerQueryLimit <= 0 {
		cfg.PerQueryLimit = def.PerQueryLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	return &Service{
		log:     log.With("service", "SearchService"),
		index:   index,
		records: records,
		store:   store,
		cfg:     cfg,
		cache:   expirable.NewLRU[string, *types.ContentRecord](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// Search runs every query against the index and merges hits by content hash. A file's score is
// its best chunk score; its chunks are the distinct chunks any query matched, best first.
func (s *Service) Search(ctx context.Context, queries []string, limit int) ([]Result, error) {
	var qs []string
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			qs = append(qs, q)
		}
	}
	if len(qs) == 0 {
		return nil, ErrNoQuery
	}
	if limit <= 0 || limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	hitsPerQuery := make([][]indexer.Hit, len(qs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, q := range qs {
		g.Go(func() error {
			hits, err := s.index.Search(gctx, q, s.cfg.PerQueryLimit)
			if err != nil {
				return fmt.Errorf("search %q: %w", q, err)
			}
			hitsPerQuery[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := merge(hitsPerQuery)
	if len(results) > limit {
		results = results[:limit]
	}
	if err := s.enrich(ctx, results); err != nil {
		return nil, err
	}
	return results, nil
}

func merge(hitsPerQuery [][]indexer.Hit) []Result {
	byHash := map[string]*Result{}
	seen := map[string]map[int]int{}
	var order []string
	for _, hits := range hitsPerQuery {
		for _, h := range hits {
			r, ok := byHash[h.ContentHash]
			if !ok {
				r = &Result{ContentHash: h.ContentHash, File: File{OriginName: h.DisplayName}}
				byHash[h.ContentHash] = r
				seen[h.ContentHash] = map[int]int{}
				order = append(order, h.ContentHash)
			}
			if h.Score > r.Score {
				r.Score = h.Score
			}
			if i, dup := seen[h.ContentHash][h.ChunkIndex]; dup {
				if h.Score > r.Chunks[i].Score {
					r.Chunks[i].Score = h.Score
				}
				continue
			}
			seen[h.ContentHash][h.ChunkIndex] = len(r.Chunks)
			r.Chunks = append(r.Chunks, Chunk{Index: h.ChunkIndex, Text: h.ChunkText, Score: h.Score})
		}
	}
	out := make([]Result, 0, len(order))
	for _, h := range order {
		r := byHash[h]
		sort.SliceStable(r.Chunks, func(i, j int) bool { return r.Chunks[i].Score > r.Chunks[j].Score })
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ContentHash < out[j].ContentHash
	})
	return out
}

func (s *Service) enrich(ctx context.Context, results []Result) error {
	if len(results) == 0 {
		return nil
	}
	hashes := make([]string, len(results))
	for i, r := range results {
		hashes[i] = r.ContentHash
	}
	recs, err := s.lookup(ctx, hashes)
	if err != nil {
		return err
	}
	for i := range results {
		rec, ok := recs[results[i].ContentHash]
		if !ok {
			// Indexed points can outlive a purge of the state store.
			continue
		}
		results[i].File = s.fileOf(ctx, rec)
	}
	return nil
}

// lookup serves records from the cache and fetches the rest in one query.
func (s *Service) lookup(ctx context.Context, hashes []string) (map[string]*types.ContentRecord, error) {
	out := make(map[string]*types.ContentRecord, len(hashes))
	var missing []string
	for _, h := range hashes {
		if rec, ok := s.cache.Get(h); ok {
			out[h] = rec
			continue
		}
		missing = append(missing, h)
	}
	if len(missing) == 0 {
		return out, nil
	}
	recs, err := s.records.GetMany(dbctx.Of(ctx), missing)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	for _, rec := range recs {
		s.cache.Add(rec.ContentHash, rec)
		out[rec.ContentHash] = rec
	}
	return out, nil
}

// File returns one record with download links.
func (s *Service) File(ctx context.Context, hash string) (*File, error) {
	if !contentstore.ValidHash(hash) {
		return nil, ErrNotFound
	}
	recs, err := s.lookup(ctx, []string{hash})
	if err != nil {
		return nil, err
	}
	rec, ok := recs[hash]
	if !ok {
		return nil, ErrNotFound
	}
	f := s.fileOf(ctx, rec)
	return &f, nil
}

func (s *Service) fileOf(ctx context.Context, rec *types.ContentRecord) File {
	f := File{
		OriginName: rec.OriginName,
		OriginPath: rec.OriginPath,
		MimeType:   rec.MimeType,
		SizeBytes:  rec.SizeBytes,
		Status:     string(rec.Status),
		IndexedAt:  rec.IndexedAt,
	}
	if s.store == nil {
		return f
	}
	if url, err := s.store.SignedURL(ctx, rec.StorageKey, s.cfg.SignedURLTTL); err == nil {
		f.RawURL = url
	} else {
		s.log.Debug("No signed url for raw object", "content_hash", rec.ContentHash, "error", err)
	}
	if hasText(rec.Status) {
		if key, err := contentstore.DerivativeKey(rec.ContentHash, contentstore.TextFile); err == nil {
			if url, err := s.store.SignedURL(ctx, key, s.cfg.SignedURLTTL); err == nil {
				f.TextURL = url
			}
		}
	}
	return f
}

// hasText reports statuses whose text derivative has been written.
func hasText(s types.Status) bool {
	switch s {
	case types.StatusProcessed, types.StatusIndexing, types.StatusIndexed, types.StatusFailedIndex:
		return true
	}
	return false
}

// Forget drops cached records, e.g. after a purge.
func (s *Service) Forget() { s.cache.Purge() }
