package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/yungbote/docingest-backend/internal/pkg/httpx"
	"github.com/yungbote/docingest-backend/internal/platform/gcp"
)

func writeFile(t *testing.T, root, rel, body string, mod time.Time) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Chtimes(p, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestLocalLister(t *testing.T) {
	root := t.TempDir()
	old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	writeFile(t, root, "a.pdf", "A", old)
	writeFile(t, root, "sub/b.TXT", "B", recent)
	writeFile(t, root, "sub/skip.mp4", "V", recent)
	writeFile(t, root, ".hidden/c.pdf", "C", recent)

	l, err := NewLocalLister(root, []string{"pdf", ".txt"})
	if err != nil {
		t.Fatalf("NewLocalLister: %v", err)
	}

	var all []RemoteFile
	if err := l.ListChangedSince(context.Background(), time.Time{}, func(f RemoteFile) error {
		all = append(all, f)
		return nil
	}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].OriginID != "a.pdf" || all[1].OriginID != "sub/b.TXT" {
		t.Fatalf("listed %+v", all)
	}
	if all[1].Extension != ".txt" || all[1].OriginName != "b.TXT" || !all[1].ModifiedTime.Equal(recent) {
		t.Fatalf("file fields = %+v", all[1])
	}
	rc, err := all[0].Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "A" {
		t.Fatalf("body = %q", body)
	}

	var changed []string
	_ = l.ListChangedSince(context.Background(), old, func(f RemoteFile) error {
		changed = append(changed, f.OriginID)
		return nil
	})
	if len(changed) != 1 || changed[0] != "sub/b.TXT" {
		t.Fatalf("changed since = %v", changed)
	}

	stop := errors.New("stop")
	if err := l.ListChangedSince(context.Background(), time.Time{}, func(RemoteFile) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("callback error not returned: %v", err)
	}
}

func TestNewLocalListerRejectsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f")
	_ = os.WriteFile(p, nil, 0o644)
	if _, err := NewLocalLister(p, nil); err == nil {
		t.Fatalf("expected error for non-directory root")
	}
	if _, err := NewLocalLister(" ", nil); err == nil {
		t.Fatalf("expected error for empty root")
	}
}

func TestDriveStatusClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{&googleapi.Error{Code: http.StatusBadGateway}, true},
		{&googleapi.Error{Code: http.StatusNotFound}, false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := httpx.IsRetryableError(driveStatus(tc.err)); got != tc.want {
			t.Fatalf("driveStatus(%v) retryable = %v, want %v", tc.err, got, tc.want)
		}
	}
	if driveStatus(nil) != nil {
		t.Fatalf("nil error wrapped")
	}
}

func TestFromDriveFile(t *testing.T) {
	mod := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	f := fromDriveFile(gcp.DriveFile{
		ID: "1x", Name: "Plan.docx", Path: "Team/Plan.docx", MimeType: "application/x", Extension: ".docx",
		MD5Checksum: "abc", Size: 12, ModifiedTime: mod,
	}, nil)
	if f.OriginID != "1x" || f.OriginPath != "Team/Plan.docx" || f.Checksum != "abc" || !f.ModifiedTime.Equal(mod) {
		t.Fatalf("RemoteFile = %+v", f)
	}
	if _, err := f.Open(context.Background()); err == nil {
		t.Fatalf("expected error without opener")
	}
}

func TestExtensionSet(t *testing.T) {
	set := ExtensionSet([]string{" PDF", ".Docx", "", "txt"})
	for _, e := range []string{".pdf", ".docx", ".txt"} {
		if !set[e] {
			t.Fatalf("missing %s in %v", e, set)
		}
	}
	if len(set) != 3 {
		t.Fatalf("set = %v", set)
	}
}
