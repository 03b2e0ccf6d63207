package domain

import (
	"time" // Timestamps

	"gorm.io/datatypes" // JSON column type
	"gorm.io/gorm"      // GORM ORM library
)

// EntityType names a synchronized table
type EntityType string

const (
	EntityUser        EntityType = "user"
	EntityBudget      EntityType = "budget"
	EntityTransaction EntityType = "transaction"
	EntityRecurring   EntityType = "recurring_transaction"
)

// Resolution is the side a client picks for a conflict
type Resolution string

const (
	ResolveServer Resolution = "server" // Keep the stored row
	ResolveClient Resolution = "client" // Overwrite with the pushed version
)

// SyncConflict records a pushed write that lost to a newer stored row
type SyncConflict struct {
	ID              string         `gorm:"type:char(36);primaryKey" json:"id"`          // Primary key (UUID)
	UserID          string         `gorm:"type:char(36);not null;index" json:"user_id"` // Pushing user
	EntityType      EntityType     `gorm:"size:32;not null" json:"entity_type"`         // Which table
	EntityID        string         `gorm:"type:char(36);not null" json:"entity_id"`     // Which row
	ClientVersion   datatypes.JSON `gorm:"not null" json:"client_version"`              // Rejected payload
	ServerVersion   datatypes.JSON `gorm:"not null" json:"server_version"`              // Stored row at detection time
	ClientUpdatedAt time.Time      `json:"client_updated_at"`                           // Client's claimed timestamp
	ServerUpdatedAt time.Time      `json:"server_updated_at"`                           // Stored timestamp that won
	Resolution      *Resolution    `gorm:"size:16" json:"resolution,omitempty"`         // Chosen side once resolved
	ResolvedAt      *time.Time     `gorm:"index" json:"resolved_at,omitempty"`          // Nil while open
	CreatedAt       time.Time      `json:"created_at"`                                  // Detection time

	User *User `gorm:"constraint:OnDelete:CASCADE" json:"-"` // FK to users
}

// BeforeCreate assigns a UUID when missing
func (c *SyncConflict) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// SyncState tracks per-user sync bookkeeping
type SyncState struct {
	UserID     string     `gorm:"type:char(36);primaryKey" json:"user_id"` // One row per user
	LastSyncAt *time.Time `json:"last_sync_at"`                            // Last push or pull
	LastPushAt *time.Time `json:"last_push_at"`                            // Last successful push
	LastPullAt *time.Time `json:"last_pull_at"`                            // Last successful pull
	UpdatedAt  time.Time  `json:"updated_at"`                              // Row modification time

	User *User `gorm:"constraint:OnDelete:CASCADE" json:"-"` // FK to users
}
