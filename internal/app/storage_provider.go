package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/observability"
	"github.com/yungbote/docingest-backend/internal/platform/gcp"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
	"github.com/yungbote/docingest-backend/internal/platform/s3"
)

type storageMode string

const (
	storageModeFS          storageMode = "fs"
	storageModeS3          storageMode = "s3"
	storageModeGCS         storageMode = storageMode(gcp.ObjectStorageModeGCS)
	storageModeGCSEmulator storageMode = storageMode(gcp.ObjectStorageModeGCSEmulator)
)

var (
	newGCSBucket = func(ctx context.Context, log *logger.Logger, cfg gcp.ObjectStorageConfig) (contentstore.Backend, func() error, error) {
		b, err := gcp.NewBucket(ctx, log, cfg)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	}
	newS3Store = func(ctx context.Context, log *logger.Logger, cfg s3.Config) (contentstore.Backend, error) {
		return s3.New(ctx, log, cfg)
	}
)

type StorageProviderBootstrapErrorCode string

const (
	StorageProviderBootstrapErrorInvalidMode         StorageProviderBootstrapErrorCode = "invalid_mode"
	StorageProviderBootstrapErrorMissingEmulatorHost StorageProviderBootstrapErrorCode = "missing_emulator_host"
	StorageProviderBootstrapErrorInvalidEmulatorHost StorageProviderBootstrapErrorCode = "invalid_emulator_host"
	StorageProviderBootstrapErrorMissingBucket       StorageProviderBootstrapErrorCode = "missing_bucket"
	StorageProviderBootstrapErrorConnectFailed       StorageProviderBootstrapErrorCode = "connect_failed"
)

type StorageProviderBootstrapError struct {
	Code         StorageProviderBootstrapErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *StorageProviderBootstrapError) Error() string {
	if e == nil {
		return "object storage bootstrap failed"
	}
	return fmt.Sprintf(
		"object storage bootstrap failed (code=%s mode=%q emulator_host=%q): %v",
		e.Code,
		e.Mode,
		e.EmulatorHost,
		e.Cause,
	)
}

func (e *StorageProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveContentBackend picks the blob backend under the content store. The returned close
// func is never nil.
func resolveContentBackend(ctx context.Context, log *logger.Logger, cfg Config) (contentstore.Backend, func() error, error) {
	mode := storageMode(strings.ToLower(strings.TrimSpace(cfg.ObjectStorageMode)))
	modeSource := "explicit_or_default"
	if cfg.StorageModeCompatFallback {
		modeSource = "compatibility_fallback"
	}
	metrics := observability.Current()
	noClose := func() error { return nil }

	fail := func(err error) (contentstore.Backend, func() error, error) {
		code := storageProviderBootstrapErrorCode(err)
		metrics.ObserveBootstrap("content_store", string(mode), "error", string(code))
		log.Error(
			"Object storage provider bootstrap failed",
			"mode", mode,
			"mode_source", modeSource,
			"emulator_host", cfg.StorageEmulatorHost,
			"error_code", code,
			"error", err,
		)
		return nil, nil, err
	}

	log.Info(
		"Selecting object storage provider",
		"mode", mode,
		"mode_source", modeSource,
		"emulator_host", cfg.StorageEmulatorHost,
	)

	var (
		backend contentstore.Backend
		closeFn = noClose
	)
	switch mode {
	case storageModeFS:
		fsb, err := contentstore.NewFSBackend(cfg.FSRoot)
		if err != nil {
			return fail(&StorageProviderBootstrapError{Code: StorageProviderBootstrapErrorConnectFailed, Mode: string(mode), Cause: err})
		}
		backend = fsb
	case storageModeS3:
		s3cfg := s3.ConfigFromEnv()
		if s3cfg.Bucket == "" {
			return fail(&StorageProviderBootstrapError{Code: StorageProviderBootstrapErrorMissingBucket, Mode: string(mode), Cause: errors.New("S3_BUCKET is required")})
		}
		st, err := newS3Store(ctx, log, s3cfg)
		if err != nil {
			return fail(&StorageProviderBootstrapError{Code: StorageProviderBootstrapErrorConnectFailed, Mode: string(mode), Cause: err})
		}
		backend = st
	case storageModeGCS, storageModeGCSEmulator:
		gcfg := gcp.ObjectStorageConfig{
			Mode:                  gcp.ObjectStorageMode(mode),
			EmulatorHost:          strings.TrimSpace(cfg.StorageEmulatorHost),
			Bucket:                strings.TrimSpace(cfg.GCSBucket),
			CompatibilityFallback: cfg.StorageModeCompatFallback,
		}
		if err := gcp.ValidateObjectStorageConfig(gcfg); err != nil {
			return fail(classifyStorageProviderBootstrapError(gcfg, err))
		}
		b, closer, err := newGCSBucket(ctx, log, gcfg)
		if err != nil {
			return fail(classifyStorageProviderBootstrapError(gcfg, err))
		}
		backend, closeFn = b, closer
	default:
		return fail(&StorageProviderBootstrapError{
			Code:         StorageProviderBootstrapErrorInvalidMode,
			Mode:         string(mode),
			EmulatorHost: cfg.StorageEmulatorHost,
			Cause:        fmt.Errorf("unsupported object storage mode %q", mode),
		})
	}
	metrics.ObserveBootstrap("content_store", string(mode), "success", "none")
	return backend, closeFn, nil
}

func classifyStorageProviderBootstrapError(storageCfg gcp.ObjectStorageConfig, err error) error {
	code := StorageProviderBootstrapErrorConnectFailed
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case gcp.ObjectStorageConfigErrorInvalidMode:
			code = StorageProviderBootstrapErrorInvalidMode
		case gcp.ObjectStorageConfigErrorMissingEmulatorHost:
			code = StorageProviderBootstrapErrorMissingEmulatorHost
		case gcp.ObjectStorageConfigErrorInvalidEmulatorHost:
			code = StorageProviderBootstrapErrorInvalidEmulatorHost
		case gcp.ObjectStorageConfigErrorMissingBucket:
			code = StorageProviderBootstrapErrorMissingBucket
		}
	}
	return &StorageProviderBootstrapError{
		Code:         code,
		Mode:         string(storageCfg.Mode),
		EmulatorHost: storageCfg.EmulatorHost,
		Cause:        err,
	}
}

func storageProviderBootstrapErrorCode(err error) StorageProviderBootstrapErrorCode {
	var bootstrapErr *StorageProviderBootstrapError
	if errors.As(err, &bootstrapErr) {
		if bootstrapErr.Code != "" {
			return bootstrapErr.Code
		}
	}
	return StorageProviderBootstrapErrorConnectFailed
}
