package content

import (
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
)

type Stats struct {
	Total      int64                          `json:"total"`
	TotalBytes int64                          `json:"total_bytes"`
	ByStatus   map[types.Status]int64         `json:"by_status"`
	Errors     map[types.Status][]ErrorBucket `json:"errors,omitempty"`
	Origins    int64                          `json:"origins"`
}

type ErrorBucket struct {
	Kind  types.ErrorKind `json:"kind"`
	Count int64           `json:"count"`
}

func (r *stateStore) Stats(dbc dbctx.Context) (*Stats, error) {
	db := dbc.Handle(r.db)
	out := &Stats{
		ByStatus: map[types.Status]int64{},
		Errors:   map[types.Status][]ErrorBucket{},
	}
	for _, s := range types.AllStatuses {
		out.ByStatus[s] = 0
	}

	var byStatus []struct {
		Status types.Status
		Count  int64
		Bytes  int64
	}
	if err := db.Model(&types.ContentRecord{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(size_bytes), 0) AS bytes").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		out.ByStatus[row.Status] = row.Count
		out.Total += row.Count
		out.TotalBytes += row.Bytes
	}

	var byError []struct {
		Status    types.Status
		ErrorKind types.ErrorKind
		Count     int64
	}
	if err := db.Model(&types.ContentRecord{}).
		Select("status, error_kind, COUNT(*) AS count").
		Where("status IN ?", []types.Status{types.StatusFailedSync, types.StatusFailedProcess, types.StatusFailedIndex}).
		Group("status, error_kind").
		Order("count DESC").
		Scan(&byError).Error; err != nil {
		return nil, err
	}
	for _, row := range byError {
		out.Errors[row.Status] = append(out.Errors[row.Status], ErrorBucket{Kind: row.ErrorKind, Count: row.Count})
	}

	if err := db.Model(&types.OriginFile{}).Count(&out.Origins).Error; err != nil {
		return nil, err
	}
	return out, nil
}
