package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

func TestPostgresConnString(t *testing.T) {
	cfg := PostgresConfig{User: "ingest", Password: "p@ss:word/1", Host: "db", Port: "5432", Database: "docingest", SSLMode: "require"}
	want := "postgres://ingest:p%40ss%3Aword%2F1@db:5432/docingest?sslmode=require"
	if got := cfg.ConnString(); got != want {
		t.Fatalf("ConnString = %q, want %q", got, want)
	}
	cfg.DSN = "host=db user=x"
	if got := cfg.ConnString(); got != "host=db user=x" {
		t.Fatalf("explicit DSN ignored: %q", got)
	}
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gl := newGormLogger(&logger.Logger{SugaredLogger: zap.New(core).Sugar()})
	sql := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	gl.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	gl.Trace(ctx, time.Now(), sql, nil)
	if n := logs.Len(); n != 0 {
		t.Fatalf("fast ok and not-found should be silent at warn level, got %d entries", n)
	}
	gl.Trace(ctx, time.Now(), sql, errors.New("deadlock"))
	gl.Trace(ctx, time.Now().Add(-2*time.Second), sql, nil)
	entries := logs.TakeAll()
	if len(entries) != 2 || entries[0].Message != "sql failed" || entries[1].Message != "slow sql" {
		t.Fatalf("entries = %+v", entries)
	}

	gl.LogMode(gormLogger.Silent).Trace(ctx, time.Now(), sql, errors.New("deadlock"))
	if logs.Len() != 0 {
		t.Fatalf("silent mode logged")
	}
}

func TestAutoMigrateAllSQLite(t *testing.T) {
	svc, err := NewSQLiteService(logger.Nop(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteService: %v", err)
	}
	if err := AutoMigrateAll(svc.DB()); err != nil {
		t.Fatalf("AutoMigrateAll: %v", err)
	}
	for _, m := range Models() {
		if !svc.DB().Migrator().HasTable(m) {
			t.Fatalf("missing table for %T", m)
		}
	}
	if err := AutoMigrateAll(svc.DB()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
