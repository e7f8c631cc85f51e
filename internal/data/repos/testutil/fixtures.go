package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/docingest-backend/internal/domain/content"
)

// Hash is the hex sha256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func SeedRecord(tb testing.TB, ctx context.Context, tx *gorm.DB, body string, status types.Status) *types.ContentRecord {
	tb.Helper()
	h := Hash(body)
	now := time.Now().UTC()
	rec := &types.ContentRecord{
		ContentHash: h,
		StorageKey:  "objects/" + h[0:2] + "/" + h[2:4] + "/" + h,
		OriginID:    "origin-" + h[:8],
		OriginPath:  "docs/" + h[:8] + ".pdf",
		OriginName:  h[:8] + ".pdf",
		Extension:   ".pdf",
		SizeBytes:   int64(len(body)),
		Status:      status,
		SyncedAt:    &now,
	}
	if err := tx.WithContext(ctx).Create(rec).Error; err != nil {
		tb.Fatalf("seed record: %v", err)
	}
	return rec
}

func SeedRecords(tb testing.TB, ctx context.Context, tx *gorm.DB, prefix string, n int, status types.Status) []*types.ContentRecord {
	tb.Helper()
	recs := make([]*types.ContentRecord, 0, n)
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		h := Hash(prefix + "-" + strconv.Itoa(i))
		recs = append(recs, &types.ContentRecord{
			ContentHash: h,
			StorageKey:  "objects/" + h[0:2] + "/" + h[2:4] + "/" + h,
			OriginID:    prefix + "-" + strconv.Itoa(i),
			OriginName:  prefix + "-" + strconv.Itoa(i) + ".txt",
			Extension:   ".txt",
			Status:      status,
			SyncedAt:    &now,
		})
	}
	if err := tx.WithContext(ctx).CreateInBatches(recs, 200).Error; err != nil {
		tb.Fatalf("seed records: %v", err)
	}
	return recs
}
