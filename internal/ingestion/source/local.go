package source

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalLister walks a directory tree. The origin id is the slash-separated path relative to
// the root, so a move shows up as a new origin.
type LocalLister struct {
	root string
	exts map[string]bool
}

func NewLocalLister(root string, extensions []string) (*LocalLister, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("source: local root required")
	}
	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, errors.New("source: local root is not a directory")
	}
	return &LocalLister{root: root, exts: ExtensionSet(extensions)}, nil
}

func (l *LocalLister) Name() string { return "local" }

func (l *LocalLister) ListChangedSince(ctx context.Context, since time.Time, fn func(RemoteFile) error) error {
	var paths []string
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if p != l.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if len(l.exts) > 0 && !l.exts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return err
		}
		mod := st.ModTime().UTC()
		if !since.IsZero() && !mod.After(since) {
			continue
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		full := p
		f := NewRemoteFile(RemoteFile{
			OriginID:     rel,
			OriginPath:   rel,
			OriginName:   filepath.Base(p),
			ModifiedTime: mod,
			MimeType:     mime.TypeByExtension(strings.ToLower(filepath.Ext(p))),
			Size:         st.Size(),
		}, func(context.Context) (io.ReadCloser, error) {
			return os.Open(full)
		})
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
