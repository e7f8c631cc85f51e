package content

import (
	"errors"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

type ListOptions struct {
	// IncludeFailed widens the query with the failure branch of the stage consuming the status.
	IncludeFailed bool
	Limit         int
	// After is a keyset cursor on content_hash; rows are returned in ascending hash order.
	After string
}

type StateStore interface {
	UpsertOnFirstSeen(dbc dbctx.Context, rec *types.ContentRecord) (bool, error)
	Transition(dbc dbctx.Context, contentHash string, from []types.Status, to types.Status, extra map[string]interface{}) (bool, error)
	MarkFailed(dbc dbctx.Context, contentHash string, stage types.Stage, kind types.ErrorKind, message string) error
	ListByStatus(dbc dbctx.Context, status types.Status, opts ListOptions) ([]*types.ContentRecord, error)
	UpdateOriginMetadata(dbc dbctx.Context, contentHash, originID, originPath, originName string) error
	Get(dbc dbctx.Context, contentHash string) (*types.ContentRecord, error)
	GetMany(dbc dbctx.Context, contentHashes []string) ([]*types.ContentRecord, error)

	RecordOrigin(dbc dbctx.Context, origin *types.OriginFile) error
	MarkOriginFailed(dbc dbctx.Context, origin *types.OriginFile, kind types.ErrorKind, message string) error
	ListOrigins(dbc dbctx.Context, after string, limit int) ([]*types.OriginFile, error)

	GetCheckpoint(dbc dbctx.Context, key string) (string, bool, error)
	SetCheckpoint(dbc dbctx.Context, key, value string) error

	Stats(dbc dbctx.Context) (*Stats, error)
	ResetStale(dbc dbctx.Context, olderThan time.Duration) (int64, error)
	Purge(dbc dbctx.Context) error
}

type stateStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStateStore(db *gorm.DB, baseLog *logger.Logger) StateStore {
	return &stateStore{
		db:  db,
		log: baseLog.With("repo", "StateStore"),
	}
}

// failureBranch maps a queried status to the failed status a retry run also drains.
func failureBranch(status types.Status) types.Status {
	switch status {
	case types.StatusSynced, types.StatusProcessing:
		return types.StatusFailedProcess
	case types.StatusProcessed, types.StatusIndexing:
		return types.StatusFailedIndex
	default:
		return ""
	}
}

// markableStatuses are the statuses a stage may move into its failure branch. Records that
// already advanced past the stage are left alone.
func markableStatuses(stage types.Stage) []types.Status {
	switch stage {
	case types.StageSync:
		return []types.Status{types.StatusFailedSync}
	case types.StageProcess:
		return []types.Status{types.StatusSynced, types.StatusProcessing, types.StatusFailedProcess}
	case types.StageIndex:
		return []types.Status{types.StatusProcessed, types.StatusIndexing, types.StatusFailedIndex}
	default:
		return nil
	}
}

func (r *stateStore) UpsertOnFirstSeen(dbc dbctx.Context, rec *types.ContentRecord) (bool, error) {
	if rec == nil || rec.ContentHash == "" {
		return false, errors.New("upsert: content hash required")
	}
	if rec.Status == "" {
		rec.Status = types.StatusFailedSync
	}
	res := dbc.Handle(r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "content_hash"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *stateStore) Transition(dbc dbctx.Context, contentHash string, from []types.Status, to types.Status, extra map[string]interface{}) (bool, error) {
	if contentHash == "" || len(from) == 0 {
		return false, nil
	}
	if !to.Valid() {
		return false, errors.New("transition: invalid target status " + string(to))
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{}
	for k, v := range extra {
		updates[k] = v
	}
	updates["status"] = to
	updates["updated_at"] = now
	switch to {
	case types.StatusSynced:
		setDefault(updates, "synced_at", now)
	case types.StatusProcessed:
		setDefault(updates, "processed_at", now)
	case types.StatusIndexed:
		setDefault(updates, "indexed_at", now)
	}
	// Claims keep retry_count so repeated failures keep counting. Completing a stage resets it.
	switch to {
	case types.StatusSynced, types.StatusProcessed, types.StatusIndexed:
		updates["retry_count"] = 0
	}
	if !to.IsFailed() {
		updates["error_kind"] = ""
		updates["error_message"] = ""
		updates["last_error_at"] = nil
	}

	res := dbc.Handle(r.db).
		Model(&types.ContentRecord{}).
		Where("content_hash = ? AND status IN ?", contentHash, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *stateStore) MarkFailed(dbc dbctx.Context, contentHash string, stage types.Stage, kind types.ErrorKind, message string) error {
	allowed := markableStatuses(stage)
	if contentHash == "" || len(allowed) == 0 {
		return nil
	}
	now := time.Now().UTC()
	res := dbc.Handle(r.db).
		Model(&types.ContentRecord{}).
		Where("content_hash = ? AND status IN ?", contentHash, allowed).
		Updates(map[string]interface{}{
			"status":        stage.Failed(),
			"error_kind":    kind,
			"error_message": truncate(message, 2000),
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_error_at": now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		r.log.Debug("mark failed skipped", "content_hash", contentHash, "stage", stage)
	}
	return nil
}

func (r *stateStore) ListByStatus(dbc dbctx.Context, status types.Status, opts ListOptions) ([]*types.ContentRecord, error) {
	statuses := []types.Status{status}
	if opts.IncludeFailed {
		if fb := failureBranch(status); fb != "" {
			statuses = append(statuses, fb)
		}
	}
	q := dbc.Handle(r.db).Where("status IN ?", statuses)
	if opts.After != "" {
		q = q.Where("content_hash > ?", opts.After)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var out []*types.ContentRecord
	if err := q.Order("content_hash ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *stateStore) UpdateOriginMetadata(dbc dbctx.Context, contentHash, originID, originPath, originName string) error {
	if contentHash == "" {
		return nil
	}
	return dbc.Handle(r.db).
		Model(&types.ContentRecord{}).
		Where("content_hash = ?", contentHash).
		Updates(map[string]interface{}{
			"origin_id":   originID,
			"origin_path": originPath,
			"origin_name": originName,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (r *stateStore) Get(dbc dbctx.Context, contentHash string) (*types.ContentRecord, error) {
	var rec types.ContentRecord
	err := dbc.Handle(r.db).Where("content_hash = ?", contentHash).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *stateStore) GetMany(dbc dbctx.Context, contentHashes []string) ([]*types.ContentRecord, error) {
	var out []*types.ContentRecord
	if len(contentHashes) == 0 {
		return out, nil
	}
	if err := dbc.Handle(r.db).Where("content_hash IN ?", contentHashes).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *stateStore) RecordOrigin(dbc dbctx.Context, origin *types.OriginFile) error {
	if origin == nil || origin.OriginID == "" {
		return nil
	}
	origin.ErrorKind = ""
	origin.ErrorMessage = ""
	return dbc.Handle(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "origin_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"content_hash", "storage_key", "origin_path", "origin_name", "mime_type",
				"checksum", "modified_time", "error_kind", "error_message", "updated_at",
			}),
		}).
		Create(origin).Error
}

func (r *stateStore) MarkOriginFailed(dbc dbctx.Context, origin *types.OriginFile, kind types.ErrorKind, message string) error {
	if origin == nil || origin.OriginID == "" {
		return nil
	}
	origin.ErrorKind = kind
	origin.ErrorMessage = truncate(message, 2000)
	return dbc.Handle(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "origin_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"origin_path", "origin_name", "error_kind", "error_message", "updated_at"}),
		}).
		Create(origin).Error
}

func (r *stateStore) ListOrigins(dbc dbctx.Context, after string, limit int) ([]*types.OriginFile, error) {
	q := dbc.Handle(r.db).Where("content_hash <> ''")
	if after != "" {
		q = q.Where("origin_id > ?", after)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.OriginFile
	if err := q.Order("origin_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *stateStore) GetCheckpoint(dbc dbctx.Context, key string) (string, bool, error) {
	var cp types.Checkpoint
	err := dbc.Handle(r.db).Where("key = ?", key).Take(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return cp.Value, true, nil
}

func (r *stateStore) SetCheckpoint(dbc dbctx.Context, key, value string) error {
	cp := &types.Checkpoint{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return dbc.Handle(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(cp).Error
}

func (r *stateStore) ResetStale(dbc dbctx.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = 24 * time.Hour
	}
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)
	var total int64
	err := dbc.Handle(r.db).Transaction(func(tx *gorm.DB) error {
		for inflight, failed := range map[types.Status]types.Status{
			types.StatusProcessing: types.StatusFailedProcess,
			types.StatusIndexing:   types.StatusFailedIndex,
		} {
			res := tx.Model(&types.ContentRecord{}).
				Where("status = ? AND updated_at < ?", inflight, cutoff).
				Updates(map[string]interface{}{
					"status":        failed,
					"error_kind":    types.ErrorStale,
					"error_message": "claimed but not completed before " + cutoff.Format(time.RFC3339),
					"last_error_at": now,
					"updated_at":    now,
				})
			if res.Error != nil {
				return res.Error
			}
			total += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if total > 0 {
		r.log.Info("Reset stale in-flight records", "count", total, "older_than", olderThan.String())
	}
	return total, nil
}

func (r *stateStore) Purge(dbc dbctx.Context) error {
	return dbc.Handle(r.db).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&types.ContentRecord{}, &types.OriginFile{}, &types.Checkpoint{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func setDefault(m map[string]interface{}, key string, v interface{}) {
	if _, ok := m[key]; !ok {
		m[key] = v
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
