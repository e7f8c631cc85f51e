package source

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// RemoteFile is one listed entry of a remote source. Bytes are only fetched through Open.
type RemoteFile struct {
	OriginID     string
	OriginPath   string
	OriginName   string
	ModifiedTime time.Time
	MimeType     string
	Extension    string
	Checksum     string
	Size         int64

	open func(ctx context.Context) (io.ReadCloser, error)
}

func NewRemoteFile(f RemoteFile, open func(ctx context.Context) (io.ReadCloser, error)) RemoteFile {
	f.open = open
	if f.Extension == "" {
		f.Extension = strings.ToLower(path.Ext(f.OriginName))
	}
	return f
}

func (f RemoteFile) Open(ctx context.Context) (io.ReadCloser, error) {
	if f.open == nil {
		return nil, errors.New("source: file has no opener")
	}
	return f.open(ctx)
}

// Lister enumerates files modified after since (all files when since is zero), calling fn for
// each in turn. Returning an error from fn stops the listing.
type Lister interface {
	Name() string
	ListChangedSince(ctx context.Context, since time.Time, fn func(RemoteFile) error) error
}

// ExtensionSet normalizes configured extensions to lowercase with a leading dot.
func ExtensionSet(exts []string) map[string]bool {
	out := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = true
	}
	return out
}
