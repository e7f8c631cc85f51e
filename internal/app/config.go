package app

import (
	"os"
	"strings"
	"time"

	"github.com/yungbote/docingest-backend/internal/ingestion/pipeline"
	"github.com/yungbote/docingest-backend/internal/platform/envutil"
)

var defaultExtensions = []string{".pdf", ".doc", ".docx", ".ppt", ".pptx", ".txt", ".rtf", ".epub"}

type Config struct {
	LogMode string

	// Run parameters; CLI flags override them.
	MaxFiles        int
	DryRun          bool
	RetryFailed     bool
	ParallelWorkers int
	IndexWorkers    int
	UseProcessPool  bool
	ChunkSize       int
	ForceFullSync   bool
	StaleAfter      time.Duration

	Extensions        []string
	DefaultLanguages  string
	LanguageHintsFile string
	VisionOCR         bool

	// SourceKind is "drive" or "local"; LocalSourceDir roots the local lister.
	SourceKind     string
	LocalSourceDir string

	ManifestBackend string
	ManifestPath    string
	ManifestKey     string

	ObjectStorageMode         string
	StorageModeCompatFallback bool
	StorageEmulatorHost       string
	GCSBucket                 string
	FSRoot                    string

	DatabaseDriver string
	SQLitePath     string

	// IndexProvider is "qdrant" or "memory".
	IndexProvider string
	ChunkChars    int
	ChunkOverlap  int

	HTTPAddr      string
	JWTSecret     string
	CORSOrigins   []string
	SignedURLTTL  time.Duration
	CacheSize     int
	CacheTTL      time.Duration
	MetricsAddr   string
	CycleInterval time.Duration
}

func LoadConfig() Config {
	emulatorHost := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST"))
	storageMode := strings.ToLower(envutil.String("OBJECT_STORAGE_MODE", ""))
	compatFallback := false
	if storageMode == "" {
		// An emulator host without an explicit mode selects the emulator.
		if emulatorHost != "" {
			storageMode = string(storageModeGCSEmulator)
			compatFallback = true
		} else {
			storageMode = string(storageModeFS)
		}
	}
	sourceKind := strings.ToLower(envutil.String("SOURCE_KIND", ""))
	if sourceKind == "" {
		if envutil.String("DRIVE_FOLDER_ID", "") != "" {
			sourceKind = sourceDrive
		} else {
			sourceKind = sourceLocal
		}
	}
	indexProvider := strings.ToLower(envutil.String("INDEX_PROVIDER", ""))
	if indexProvider == "" {
		if envutil.String("QDRANT_URL", "") != "" {
			indexProvider = string(IndexProviderQdrant)
		} else {
			indexProvider = string(IndexProviderMemory)
		}
	}
	return Config{
		LogMode: envutil.String("LOG_MODE", "development"),

		MaxFiles:        envutil.Int("MAX_FILES_PER_RUN", 0),
		DryRun:          envutil.Bool("DRY_RUN", false),
		RetryFailed:     envutil.Bool("RETRY_FAILED", false),
		ParallelWorkers: envutil.Int("PROCESSOR_MAX_WORKERS", 5),
		IndexWorkers:    envutil.Int("INDEXER_MAX_WORKERS", 3),
		UseProcessPool:  envutil.Bool("USE_PROCESS_POOL", false),
		ChunkSize:       envutil.Int("PIPELINE_CHUNK_SIZE", 100),
		ForceFullSync:   envutil.Bool("FORCE_FULL_SYNC", false),
		StaleAfter:      envutil.Duration("STALE_PROCESSING_HOURS", 24*time.Hour, time.Hour),

		Extensions:        envutil.List("ADDITIONAL_EXTENSIONS", defaultExtensions),
		DefaultLanguages:  envutil.String("OCR_DEFAULT_LANGUAGES", "eng+hun"),
		LanguageHintsFile: envutil.String("LANGUAGE_HINTS_FILE", ""),
		VisionOCR:         envutil.Bool("VISION_OCR_ENABLED", false),

		SourceKind:     sourceKind,
		LocalSourceDir: envutil.String("LOCAL_SOURCE_DIR", "./data/inbox"),

		ManifestBackend: strings.ToLower(envutil.String("MANIFEST_BACKEND", "file")),
		ManifestPath:    envutil.String("MANIFEST_PATH", "./data/manifest.json"),
		ManifestKey:     envutil.String("MANIFEST_KEY", "docingest:manifest"),

		ObjectStorageMode:         storageMode,
		StorageModeCompatFallback: compatFallback,
		StorageEmulatorHost:       emulatorHost,
		GCSBucket:                 envutil.String("CONTENT_GCS_BUCKET", ""),
		FSRoot:                    envutil.String("CONTENT_FS_ROOT", "./data/content"),

		DatabaseDriver: strings.ToLower(envutil.String("DB_DRIVER", "postgres")),
		SQLitePath:     envutil.String("SQLITE_PATH", "./data/docingest.db"),

		IndexProvider: indexProvider,
		ChunkChars:    envutil.Int("INDEX_CHUNK_CHARS", 1200),
		ChunkOverlap:  envutil.Int("INDEX_CHUNK_OVERLAP", 150),

		HTTPAddr:      envutil.String("HTTP_ADDR", ":8080"),
		JWTSecret:     envutil.String("API_JWT_SECRET", ""),
		CORSOrigins:   envutil.List("CORS_ALLOW_ORIGINS", nil),
		SignedURLTTL:  envutil.Duration("SIGNED_URL_TTL", time.Hour, time.Second),
		CacheSize:     envutil.Int("SEARCH_CACHE_SIZE", 1024),
		CacheTTL:      envutil.Duration("SEARCH_CACHE_TTL", 5*time.Minute, time.Second),
		MetricsAddr:   envutil.String("METRICS_ADDR", ":9090"),
		CycleInterval: envutil.Duration("INGEST_CYCLE_INTERVAL", 15*time.Minute, time.Second),
	}
}

// Options turns the run parameters into pipeline options.
func (c Config) Options() pipeline.Options {
	return pipeline.Options{
		MaxFiles:        c.MaxFiles,
		DryRun:          c.DryRun,
		RetryFailed:     c.RetryFailed,
		ParallelWorkers: c.ParallelWorkers,
		IndexWorkers:    c.IndexWorkers,
		UseProcessPool:  c.UseProcessPool,
		ChunkSize:       c.ChunkSize,
		ForceFullSync:   c.ForceFullSync,
	}
}
