package domain

import (
	"time" // Timestamps

	"gorm.io/gorm" // GORM ORM library
)

// BudgetStatus is the lifecycle state of a budget
type BudgetStatus string

const (
	BudgetActive    BudgetStatus = "active"    // Open for reads and writes
	BudgetArchived  BudgetStatus = "archived"  // Frozen, data preserved
	BudgetSuspended BudgetStatus = "suspended" // Administratively disabled
)

// Valid reports whether s is a known budget status
func (s BudgetStatus) Valid() bool {
	return s == BudgetActive || s == BudgetArchived || s == BudgetSuspended
}

// Budget Model
type Budget struct {
	ID         string       `gorm:"type:char(36);primaryKey" json:"id"`                 // Primary key (UUID)
	Name       string       `gorm:"size:255;not null" json:"name"`                      // Budget name
	Currency   string       `gorm:"size:3;not null" json:"currency"`                    // ISO 4217 code
	Status     BudgetStatus `gorm:"size:16;not null;index" json:"status"`               // active, archived, suspended
	ArchivedAt *time.Time   `json:"archived_at"`                                        // Set iff status is archived
	SyncStatus SyncStatus   `gorm:"size:16;not null;default:synced" json:"sync_status"` // Client replication state
	CreatedAt  time.Time    `json:"created_at"`                                         // Creation time
	UpdatedAt  time.Time    `gorm:"index" json:"updated_at"`                            // Last modification, drives sync
}

// BeforeCreate assigns a UUID and the default status
func (b *Budget) BeforeCreate(tx *gorm.DB) error {
	ensureID(&b.ID)
	if b.Status == "" {
		b.Status = BudgetActive
	}
	return nil
}
