package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

// Store addresses blobs by content hash. Raw objects are immutable once written; derived
// artifacts are replaced wholesale on reprocessing.
type Store struct {
	backend Backend
	log     *logger.Logger
}

func New(backend Backend, log *logger.Logger) *Store {
	return &Store{backend: backend, log: log.With("component", "ContentStore")}
}

func (s *Store) Backend() Backend { return s.backend }

// Put writes data under the key derived from hash. An existing object is left untouched.
func (s *Store) Put(ctx context.Context, hash string, data []byte, logicalPath string) (string, error) {
	key, err := RawKey(hash)
	if err != nil {
		return "", err
	}
	exists, err := s.backend.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("exists %s: %w", key, err)
	}
	if exists {
		return key, nil
	}
	if err := s.backend.Put(ctx, key, bytes.NewReader(data), contentTypeFor(logicalPath)); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	s.log.Debug("Stored object", "content_hash", hash, "key", key, "bytes", len(data))
	return key, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.backend.Exists(ctx, key)
}

func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	return s.backend.List(ctx, prefix)
}

// SignedURL returns a time-limited link when the backend supports signing.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	signer, ok := s.backend.(Signer)
	if !ok {
		return "", errors.New("contentstore: backend cannot sign urls")
	}
	return signer.SignedURL(ctx, key, ttl)
}

// Purge removes every raw object and derived artifact.
func (s *Store) Purge(ctx context.Context) error {
	for _, prefix := range []string{RawPrefix, DerivativePrefix} {
		if err := s.backend.DeletePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("purge %s: %w", prefix, err)
		}
	}
	return nil
}

type Element struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Page     int    `json:"page,omitempty"`
	Language string `json:"language,omitempty"`
}

type ArtifactMeta struct {
	ContentHash  string    `json:"content_hash"`
	CharCount    int       `json:"char_count"`
	ElementCount int       `json:"element_count"`
	PageCount    int       `json:"page_count"`
	Extractor    string    `json:"extractor,omitempty"`
	Languages    []string  `json:"languages,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Artifact is the normalized output of extraction for one content hash.
type Artifact struct {
	Text     string
	Elements []Element
	Meta     ArtifactMeta
}

// PutArtifact writes text, elements and meta, overwriting a previous artifact. The meta file
// is written last so its presence marks a complete artifact.
func (s *Store) PutArtifact(ctx context.Context, hash string, a *Artifact) (string, error) {
	if a == nil {
		return "", errors.New("contentstore: nil artifact")
	}
	textKey, err := DerivativeKey(hash, TextFile)
	if err != nil {
		return "", err
	}
	if err := s.backend.Put(ctx, textKey, bytes.NewReader([]byte(a.Text)), contentTypeFor(TextFile)); err != nil {
		return "", fmt.Errorf("put %s: %w", textKey, err)
	}

	var lines bytes.Buffer
	enc := json.NewEncoder(&lines)
	for _, el := range a.Elements {
		if err := enc.Encode(el); err != nil {
			return "", fmt.Errorf("encode element: %w", err)
		}
	}
	elemKey, _ := DerivativeKey(hash, ElementsFile)
	if err := s.backend.Put(ctx, elemKey, &lines, contentTypeFor(ElementsFile)); err != nil {
		return "", fmt.Errorf("put %s: %w", elemKey, err)
	}

	a.Meta.ContentHash = hash
	if a.Meta.CreatedAt.IsZero() {
		a.Meta.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(a.Meta)
	if err != nil {
		return "", fmt.Errorf("encode meta: %w", err)
	}
	metaKey, _ := DerivativeKey(hash, MetaFile)
	if err := s.backend.Put(ctx, metaKey, bytes.NewReader(meta), contentTypeFor(MetaFile)); err != nil {
		return "", fmt.Errorf("put %s: %w", metaKey, err)
	}
	return textKey, nil
}

func (s *Store) GetText(ctx context.Context, hash string) (string, error) {
	key, err := DerivativeKey(hash, TextFile)
	if err != nil {
		return "", err
	}
	b, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) GetMeta(ctx context.Context, hash string) (*ArtifactMeta, error) {
	key, err := DerivativeKey(hash, MetaFile)
	if err != nil {
		return nil, err
	}
	b, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var m ArtifactMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &m, nil
}
