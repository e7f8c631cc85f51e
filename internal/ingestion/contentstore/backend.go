package contentstore

import (
	"context"
	"io"
	"time"

	pkgerrors "github.com/yungbote/docingest-backend/internal/pkg/errors"
)

var ErrNotFound = pkgerrors.ErrNotFound

// Backend is the blob layer under the content store. Implementations must return an error
// wrapping ErrNotFound for missing keys.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// Signer is implemented by backends that can mint time-limited download links.
type Signer interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
