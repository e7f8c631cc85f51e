package indexer

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// MemoryIndex is an in-process index scored by query term overlap. It backs local runs and
// tests where no vector database is available.
type MemoryIndex struct {
	mu     sync.RWMutex
	docs   map[string][]Chunk
	names  map[string]string
	chunkN int
}

func NewMemoryIndex(chunkChars int) *MemoryIndex {
	return &MemoryIndex{docs: map[string][]Chunk{}, names: map[string]string{}, chunkN: chunkChars}
}

func (m *MemoryIndex) Upload(ctx context.Context, contentHash, text, displayName string) (string, error) {
	chunks := SplitIntoChunks(text, m.chunkN, 0)
	if len(chunks) == 0 {
		return "", ErrEmptyDocument
	}
	m.mu.Lock()
	m.docs[contentHash] = chunks
	m.names[contentHash] = displayName
	m.mu.Unlock()
	return "memory://" + contentHash, nil
}

func (m *MemoryIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []Hit
	for hash, chunks := range m.docs {
		for _, c := range chunks {
			words := tokenize(c.Text)
			set := make(map[string]bool, len(words))
			for _, w := range words {
				set[w] = true
			}
			matched := 0
			for _, t := range terms {
				if set[t] {
					matched++
				}
			}
			if matched == 0 {
				continue
			}
			hits = append(hits, Hit{
				ContentHash: hash,
				ChunkIndex:  c.Index,
				ChunkText:   c.Text,
				Score:       float64(matched) / float64(len(terms)),
				IndexHandle: "memory://" + hash,
				DisplayName: m.names[hash],
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].ContentHash != hits[j].ContentHash {
			return hits[i].ContentHash < hits[j].ContentHash
		}
		return hits[i].ChunkIndex < hits[j].ChunkIndex
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryIndex) Purge(ctx context.Context) error {
	m.mu.Lock()
	m.docs = map[string][]Chunk{}
	m.names = map[string]string{}
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
