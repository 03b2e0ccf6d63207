// Package dbtest opens throwaway SQLite stores migrated with the production schema.
package dbtest

import (
	"path/filepath"
	"testing"

	"budget_system/internal/config"
	"budget_system/internal/db"

	"gorm.io/gorm"
)

// New returns a migrated store backed by a file in t.TempDir(). The trigger and
// foreign keys behave as they do in production.
func New(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := &config.Config{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "budget.db"),
	}
	gdb, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}
