package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/docingest-backend/internal/clients/redis"
	"github.com/yungbote/docingest-backend/internal/data/db"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/ingestion/extractor"
	"github.com/yungbote/docingest-backend/internal/ingestion/manifest"
	"github.com/yungbote/docingest-backend/internal/ingestion/source"
	"github.com/yungbote/docingest-backend/internal/platform/gcp"
	"github.com/yungbote/docingest-backend/internal/platform/localmedia"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

const (
	sourceDrive = "drive"
	sourceLocal = "local"

	manifestFile   = "file"
	manifestRedis  = "redis"
	manifestObject = "object"

	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

func resolveLister(ctx context.Context, log *logger.Logger, cfg Config) (source.Lister, error) {
	switch cfg.SourceKind {
	case sourceDrive:
		dcfg := gcp.DriveConfigFromEnv()
		dcfg.Extensions = cfg.Extensions
		d, err := gcp.NewDrive(ctx, log, dcfg)
		if err != nil {
			return nil, fmt.Errorf("init drive source: %w", err)
		}
		return source.NewDriveLister(d), nil
	case sourceLocal:
		if err := os.MkdirAll(cfg.LocalSourceDir, 0o755); err != nil {
			return nil, fmt.Errorf("local source dir: %w", err)
		}
		l, err := source.NewLocalLister(cfg.LocalSourceDir, cfg.Extensions)
		if err != nil {
			return nil, fmt.Errorf("init local source: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported SOURCE_KIND %q", cfg.SourceKind)
	}
}

// resolveManifestSnapshot picks where the manifest snapshot lives. The redis backend opens a
// client that the caller owns.
func resolveManifestSnapshot(ctx context.Context, log *logger.Logger, cfg Config, backend contentstore.Backend) (manifest.Snapshot, goredis.UniversalClient, error) {
	switch cfg.ManifestBackend {
	case manifestFile, "":
		if dir := filepath.Dir(cfg.ManifestPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("manifest dir: %w", err)
			}
		}
		return manifest.NewFileSnapshot(cfg.ManifestPath), nil, nil
	case manifestRedis:
		rdb, err := redis.NewClient(ctx, log, redis.ConfigFromEnv())
		if err != nil {
			return nil, nil, fmt.Errorf("manifest redis: %w", err)
		}
		return manifest.NewRedisSnapshot(rdb, cfg.ManifestKey), rdb, nil
	case manifestObject:
		return manifest.NewObjectSnapshot(backend, cfg.ManifestKey), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported MANIFEST_BACKEND %q", cfg.ManifestBackend)
	}
}

func openDatabase(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	var gdb *gorm.DB
	switch cfg.DatabaseDriver {
	case driverPostgres, "":
		pg, err := db.NewPostgresService(log)
		if err != nil {
			return nil, err
		}
		gdb = pg.DB()
	case driverSQLite:
		if cfg.SQLitePath != "" && !strings.HasPrefix(cfg.SQLitePath, "file:") {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("sqlite dir: %w", err)
			}
		}
		lite, err := db.NewSQLiteService(log, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		gdb = lite.DB()
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DatabaseDriver)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return gdb, nil
}

// buildExtractor wires local tooling plus the optional cloud OCR clients. Missing cloud config
// leaves the corresponding fallback disabled.
func buildExtractor(ctx context.Context, log *logger.Logger, cfg Config) (*extractor.Service, *extractor.LanguageRules, []func() error, error) {
	var closers []func() error

	rules, err := extractor.LoadLanguageRules(cfg.LanguageHintsFile)
	if err != nil {
		return nil, nil, nil, err
	}
	// A hints file carries its own default; the env default only applies without one.
	if langs := extractor.ParseLanguages(cfg.DefaultLanguages); len(langs) > 0 && cfg.LanguageHintsFile == "" {
		rules.Default = langs
	}

	var docai gcp.Document
	if dcfg := gcp.DocumentConfigFromEnv(); dcfg.Enabled() {
		docai, err = gcp.NewDocument(ctx, log, dcfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init document ai: %w", err)
		}
		closers = append(closers, docai.Close)
	} else {
		log.Info("Document AI not configured; scanned PDFs use Vision or local text only")
	}

	var vision gcp.Vision
	if cfg.VisionOCR {
		vision, err = gcp.NewVision(ctx, log)
		if err != nil {
			closeAll(log, closers)
			return nil, nil, nil, fmt.Errorf("init vision: %w", err)
		}
		closers = append(closers, vision.Close)
	}

	return extractor.New(log, localmedia.New(log), docai, vision), rules, closers, nil
}

// workerCommand re-executes this binary as an extract worker.
func workerCommand() []string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return []string{exe, "extract-worker"}
}

func closeAll(log *logger.Logger, closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.Warn("Close failed", "error", err)
		}
	}
}
