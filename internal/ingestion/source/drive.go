package source

import (
	"context"
	"errors"
	"io"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/yungbote/docingest-backend/internal/pkg/httpx"
	"github.com/yungbote/docingest-backend/internal/platform/gcp"
)

// DriveLister adapts a Google Drive folder walk.
type DriveLister struct {
	drive   *gcp.Drive
	backoff httpx.Backoff
}

func NewDriveLister(d *gcp.Drive) *DriveLister {
	return &DriveLister{drive: d, backoff: httpx.DefaultBackoff()}
}

func (l *DriveLister) Name() string { return "drive" }

func (l *DriveLister) ListChangedSince(ctx context.Context, since time.Time, fn func(RemoteFile) error) error {
	return l.drive.Walk(ctx, since, func(df gcp.DriveFile) error {
		return fn(fromDriveFile(df, func(ctx context.Context) (io.ReadCloser, error) {
			var rc io.ReadCloser
			err := httpx.Retry(ctx, l.backoff, func(int) error {
				var oerr error
				rc, oerr = l.drive.Open(ctx, df)
				return driveStatus(oerr)
			})
			return rc, err
		}))
	})
}

func fromDriveFile(df gcp.DriveFile, open func(ctx context.Context) (io.ReadCloser, error)) RemoteFile {
	return NewRemoteFile(RemoteFile{
		OriginID:     df.ID,
		OriginPath:   df.Path,
		OriginName:   df.Name,
		ModifiedTime: df.ModifiedTime,
		MimeType:     df.MimeType,
		Extension:    df.Extension,
		Checksum:     df.MD5Checksum,
		Size:         df.Size,
	}, open)
}

type driveError struct {
	code int
	err  error
}

func (e *driveError) Error() string       { return e.err.Error() }
func (e *driveError) Unwrap() error       { return e.err }
func (e *driveError) HTTPStatusCode() int { return e.code }

// driveStatus exposes the Drive API status code so the retry loop can classify it.
func driveStatus(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &driveError{code: gerr.Code, err: err}
	}
	return err
}
