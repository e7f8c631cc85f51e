package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/docingest-backend/internal/domain/content"
)

// Models lists the StateStore tables in migration order.
func Models() []any {
	return []any{
		&content.ContentRecord{},
		&content.OriginFile{},
		&content.Checkpoint{},
	}
}

// AutoMigrateAll creates or updates every StateStore table. Columns are only ever added.
func AutoMigrateAll(gdb *gorm.DB) error {
	for _, m := range Models() {
		if err := gdb.AutoMigrate(m); err != nil {
			return fmt.Errorf("migrate %T: %w", m, err)
		}
	}
	return nil
}
