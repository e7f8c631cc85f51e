package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
)

// ErrNoSnapshot reports that nothing has been persisted yet.
var ErrNoSnapshot = errors.New("manifest: no snapshot")

// Snapshot stores the serialized manifest as a single value.
type Snapshot interface {
	Name() string
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
}

type FileSnapshot struct {
	path string
}

func NewFileSnapshot(path string) *FileSnapshot {
	return &FileSnapshot{path: path}
}

func (f *FileSnapshot) Name() string { return "file" }

func (f *FileSnapshot) Load(ctx context.Context) ([]byte, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	return b, err
}

func (f *FileSnapshot) Save(ctx context.Context, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(f.path, data, 0o644)
}

func (f *FileSnapshot) Delete(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// writeFileAtomic writes through a temp file in the same directory so readers never observe
// a partial snapshot.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

type RedisSnapshot struct {
	rdb goredis.UniversalClient
	key string
}

func NewRedisSnapshot(rdb goredis.UniversalClient, key string) *RedisSnapshot {
	if strings.TrimSpace(key) == "" {
		key = "docingest:manifest"
	}
	return &RedisSnapshot{rdb: rdb, key: key}
}

func (r *RedisSnapshot) Name() string { return "redis" }

func (r *RedisSnapshot) Load(ctx context.Context) ([]byte, error) {
	b, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	return b, nil
}

func (r *RedisSnapshot) Save(ctx context.Context, data []byte) error {
	if err := r.rdb.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisSnapshot) Delete(ctx context.Context) error {
	return r.rdb.Del(ctx, r.key).Err()
}

// ObjectSnapshot keeps the manifest next to the content in the object store.
type ObjectSnapshot struct {
	backend contentstore.Backend
	key     string
}

func NewObjectSnapshot(backend contentstore.Backend, key string) *ObjectSnapshot {
	if strings.TrimSpace(key) == "" {
		key = "manifest/manifest.json"
	}
	return &ObjectSnapshot{backend: backend, key: key}
}

func (o *ObjectSnapshot) Name() string { return "object" }

func (o *ObjectSnapshot) Load(ctx context.Context) ([]byte, error) {
	rc, err := o.backend.Get(ctx, o.key)
	if errors.Is(err, contentstore.ErrNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (o *ObjectSnapshot) Save(ctx context.Context, data []byte) error {
	return o.backend.Put(ctx, o.key, bytes.NewReader(data), "application/json")
}

func (o *ObjectSnapshot) Delete(ctx context.Context) error {
	return o.backend.DeletePrefix(ctx, o.key)
}
