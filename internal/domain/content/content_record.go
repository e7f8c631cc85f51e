package content

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusSynced        Status = "synced"
	StatusProcessing    Status = "processing"
	StatusProcessed     Status = "processed"
	StatusIndexing      Status = "indexing"
	StatusIndexed       Status = "indexed"
	StatusFailedSync    Status = "failed_sync"
	StatusFailedProcess Status = "failed_process"
	StatusFailedIndex   Status = "failed_index"
)

var AllStatuses = []Status{
	StatusSynced, StatusProcessing, StatusProcessed, StatusIndexing, StatusIndexed,
	StatusFailedSync, StatusFailedProcess, StatusFailedIndex,
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) IsFailed() bool {
	return s == StatusFailedSync || s == StatusFailedProcess || s == StatusFailedIndex
}

type Stage string

const (
	StageSync    Stage = "sync"
	StageProcess Stage = "process"
	StageIndex   Stage = "index"
)

// Failed is the failure branch of the stage.
func (s Stage) Failed() Status {
	return Status("failed_" + string(s))
}

// Input is the status a stage consumes.
func (s Stage) Input() Status {
	switch s {
	case StageProcess:
		return StatusSynced
	case StageIndex:
		return StatusProcessed
	default:
		return ""
	}
}

// InFlight is the claim status a stage holds while working a record.
func (s Stage) InFlight() Status {
	switch s {
	case StageProcess:
		return StatusProcessing
	case StageIndex:
		return StatusIndexing
	default:
		return ""
	}
}

// Output is the status a stage produces on success.
func (s Stage) Output() Status {
	switch s {
	case StageSync:
		return StatusSynced
	case StageProcess:
		return StatusProcessed
	case StageIndex:
		return StatusIndexed
	default:
		return ""
	}
}

type ErrorKind string

const (
	ErrorSourceUnavailable ErrorKind = "SourceUnavailable"
	ErrorStorageFailure    ErrorKind = "StorageFailure"
	ErrorExtraction        ErrorKind = "ExtractionFailure"
	ErrorIndex             ErrorKind = "IndexFailure"
	ErrorStateConflict     ErrorKind = "StateConflict"
	ErrorStale             ErrorKind = "Stale"
)

// ContentRecord is the per-content pipeline state row. One row per distinct content hash.
type ContentRecord struct {
	ContentHash string `gorm:"column:content_hash;primaryKey;size:64" json:"content_hash"`
	StorageKey  string `gorm:"column:storage_key;not null" json:"storage_key"`

	OriginID   string `gorm:"column:origin_id;index" json:"origin_id"`
	OriginPath string `gorm:"column:origin_path" json:"origin_path"`
	OriginName string `gorm:"column:origin_name" json:"origin_name"`

	Extension string `gorm:"column:extension" json:"extension"`
	MimeType  string `gorm:"column:mime_type" json:"mime_type"`
	SizeBytes int64  `gorm:"column:size_bytes;not null;default:0" json:"size_bytes"`

	Status Status `gorm:"column:status;not null;index" json:"status"`

	SyncedAt    *time.Time `gorm:"column:synced_at" json:"synced_at,omitempty"`
	ProcessedAt *time.Time `gorm:"column:processed_at" json:"processed_at,omitempty"`
	IndexedAt   *time.Time `gorm:"column:indexed_at" json:"indexed_at,omitempty"`

	CharCount    int `gorm:"column:char_count;not null;default:0" json:"char_count"`
	ElementCount int `gorm:"column:element_count;not null;default:0" json:"element_count"`
	PageCount    int `gorm:"column:page_count;not null;default:0" json:"page_count"`

	IndexHandle string `gorm:"column:index_handle" json:"index_handle,omitempty"`

	ErrorKind    ErrorKind  `gorm:"column:error_kind" json:"error_kind,omitempty"`
	ErrorMessage string     `gorm:"column:error_message" json:"error_message,omitempty"`
	RetryCount   int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	LastErrorAt  *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`

	Meta datatypes.JSON `gorm:"column:meta" json:"meta,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime;index" json:"updated_at"`
}

func (ContentRecord) TableName() string { return "content_record" }

// OriginFile mirrors one remote source entry. It is the durable side of the manifest.
type OriginFile struct {
	OriginID     string     `gorm:"column:origin_id;primaryKey" json:"origin_id"`
	ContentHash  string     `gorm:"column:content_hash;index" json:"content_hash,omitempty"`
	StorageKey   string     `gorm:"column:storage_key" json:"storage_key,omitempty"`
	OriginPath   string     `gorm:"column:origin_path" json:"origin_path"`
	OriginName   string     `gorm:"column:origin_name" json:"origin_name"`
	MimeType     string     `gorm:"column:mime_type" json:"mime_type,omitempty"`
	Checksum     string     `gorm:"column:checksum" json:"checksum,omitempty"`
	ModifiedTime *time.Time `gorm:"column:modified_time" json:"modified_time,omitempty"`
	ErrorKind    ErrorKind  `gorm:"column:error_kind" json:"error_kind,omitempty"`
	ErrorMessage string     `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

func (OriginFile) TableName() string { return "origin_file" }

type Checkpoint struct {
	Key       string    `gorm:"column:key;primaryKey" json:"key"`
	Value     string    `gorm:"column:value;not null" json:"value"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

func (Checkpoint) TableName() string { return "checkpoint" }

const CheckpointLastSync = "last_sync_time"
