package db

import (
	"fmt" // Error wrapping

	"budget_system/internal/domain" // Importing domain models

	"github.com/sirupsen/logrus" // Structured logging
	"gorm.io/gorm"               // GORM ORM library
)

// Models lists every table in dependency order
func Models() []any {
	return []any{
		&domain.User{},
		&domain.Budget{},
		&domain.Membership{},
		&domain.Transaction{},
		&domain.RecurringTransaction{},
		&domain.SyncConflict{},
		&domain.SyncState{},
	}
}

// Migrate performs automatic migration for the database schema and installs
// the admin-guard trigger
func Migrate(db *gorm.DB) error {
	// AutoMigrate will create tables, missing foreign keys, constraints, columns and indexes
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := InstallAdminGuard(db); err != nil {
		return fmt.Errorf("install admin guard: %w", err)
	}
	logrus.WithField("dialect", db.Dialector.Name()).Info("Migration completed.") // Log successful migration
	return nil
}
