package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/yungbote/docingest-backend/internal/platform/envutil"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

const driveFolderMime = "application/vnd.google-apps.folder"

// GoogleExport describes how a Google Workspace document is exported on download.
type GoogleExport struct {
	MimeType  string
	Extension string
}

var GoogleExports = map[string]GoogleExport{
	"application/vnd.google-apps.document": {
		MimeType:  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		Extension: ".docx",
	},
	"application/vnd.google-apps.presentation": {
		MimeType:  "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		Extension: ".pptx",
	},
	"application/vnd.google-apps.spreadsheet": {
		MimeType:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Extension: ".xlsx",
	},
}

type DriveFile struct {
	ID           string
	Name         string
	Path         string
	MimeType     string
	Extension    string
	MD5Checksum  string
	Size         int64
	ModifiedTime time.Time
	Export       *GoogleExport
}

type DriveConfig struct {
	FolderID          string
	Extensions        []string
	RequestsPerSecond float64
	PageSize          int64
}

func DriveConfigFromEnv() DriveConfig {
	return DriveConfig{
		FolderID:          strings.TrimSpace(os.Getenv("DRIVE_FOLDER_ID")),
		Extensions:        envutil.List("ADDITIONAL_EXTENSIONS", []string{".pdf", ".doc", ".docx", ".ppt", ".pptx", ".txt", ".rtf", ".epub"}),
		RequestsPerSecond: float64(envutil.Int("DRIVE_REQUESTS_PER_SECOND", 10)),
		PageSize:          int64(envutil.Int("DRIVE_PAGE_SIZE", 500)),
	}
}

// Drive walks a folder tree in Google Drive. All API calls share one rate limiter.
type Drive struct {
	log     *logger.Logger
	svc     *drive.Service
	cfg     DriveConfig
	exts    map[string]bool
	limiter *rate.Limiter
}

func NewDrive(ctx context.Context, log *logger.Logger, cfg DriveConfig) (*Drive, error) {
	if strings.TrimSpace(cfg.FolderID) == "" {
		return nil, errors.New("drive: DRIVE_FOLDER_ID required")
	}
	svc, err := drive.NewService(ctx, ClientOptionsFromEnv(drive.DriveReadonlyScope)...)
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}
	return newDrive(log, svc, cfg), nil
}

func newDrive(log *logger.Logger, svc *drive.Service, cfg DriveConfig) *Drive {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 1000 {
		cfg.PageSize = 500
	}
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Drive{
		log:     log.With("service", "gcp.Drive", "folder_id", cfg.FolderID),
		svc:     svc,
		cfg:     cfg,
		exts:    exts,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// Accepts reports whether a file with this name and MIME type is ingested.
func (d *Drive) Accepts(name, mimeType string) bool {
	if _, ok := GoogleExports[mimeType]; ok {
		return true
	}
	return d.exts[strings.ToLower(path.Ext(name))]
}

// Walk visits every accepted file below the configured folder. When since is non-zero only
// files modified after it are returned; folders are always descended.
func (d *Drive) Walk(ctx context.Context, since time.Time, fn func(DriveFile) error) error {
	type folder struct{ id, path string }
	queue := []folder{{id: d.cfg.FolderID}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		q := fmt.Sprintf("'%s' in parents and trashed = false", cur.id)
		pageToken := ""
		for {
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
			call := d.svc.Files.List().
				Context(ctx).
				Q(q).
				PageSize(d.cfg.PageSize).
				Fields("nextPageToken, files(id, name, mimeType, md5Checksum, size, modifiedTime)").
				SupportsAllDrives(true).
				IncludeItemsFromAllDrives(true)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			resp, err := call.Do()
			if err != nil {
				return fmt.Errorf("drive list %s: %w", cur.id, err)
			}
			for _, f := range resp.Files {
				if f == nil {
					continue
				}
				p := f.Name
				if cur.path != "" {
					p = cur.path + "/" + f.Name
				}
				if f.MimeType == driveFolderMime {
					queue = append(queue, folder{id: f.Id, path: p})
					continue
				}
				if !d.Accepts(f.Name, f.MimeType) {
					continue
				}
				df := toDriveFile(f, p)
				if !since.IsZero() && !df.ModifiedTime.After(since) {
					continue
				}
				if err := fn(df); err != nil {
					return err
				}
			}
			if resp.NextPageToken == "" {
				break
			}
			pageToken = resp.NextPageToken
		}
	}
	return nil
}

func toDriveFile(f *drive.File, p string) DriveFile {
	mod, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	df := DriveFile{
		ID:           f.Id,
		Name:         f.Name,
		Path:         p,
		MimeType:     f.MimeType,
		Extension:    strings.ToLower(path.Ext(f.Name)),
		MD5Checksum:  f.Md5Checksum,
		Size:         f.Size,
		ModifiedTime: mod.UTC(),
	}
	if exp, ok := GoogleExports[f.MimeType]; ok {
		e := exp
		df.Export = &e
		df.Extension = exp.Extension
		df.MimeType = exp.MimeType
		if !strings.HasSuffix(strings.ToLower(df.Name), exp.Extension) {
			df.Name += exp.Extension
			df.Path += exp.Extension
		}
	}
	return df
}

// Open downloads the file body, exporting Google Workspace documents to Office formats.
func (d *Drive) Open(ctx context.Context, f DriveFile) (io.ReadCloser, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var (
		resp *http.Response
		err  error
	)
	if f.Export != nil {
		resp, err = d.svc.Files.Export(f.ID, f.Export.MimeType).Context(ctx).Download()
	} else {
		resp, err = d.svc.Files.Get(f.ID).SupportsAllDrives(true).Context(ctx).Download()
	}
	if err != nil {
		return nil, fmt.Errorf("drive download %s: %w", f.ID, err)
	}
	return resp.Body, nil
}

// IsRetryableDriveError reports throttling and server-side failures.
func IsRetryableDriveError(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return false
}
