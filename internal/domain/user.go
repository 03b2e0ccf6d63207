package domain

import (
	"time" // Timestamps

	"gorm.io/gorm" // GORM ORM library
)

// AuthMethod is how a user authenticates
type AuthMethod string

const (
	AuthEmail     AuthMethod = "email"     // Email + password
	AuthPhone     AuthMethod = "phone"     // Phone + password
	AuthGoogle    AuthMethod = "google"    // Google account
	AuthBiometric AuthMethod = "biometric" // Device biometric
)

// SyncStatus is the replication state a client last reported for a row
type SyncStatus string

const (
	SyncSynced         SyncStatus = "synced"   // In sync with the server
	SyncPending        SyncStatus = "pending"  // Waiting to be pushed
	SyncStatusConflict SyncStatus = "conflict" // Push was rejected as stale
)

// Valid reports whether s is a known sync status
func (s SyncStatus) Valid() bool {
	return s == SyncSynced || s == SyncPending || s == SyncStatusConflict
}

// User Model
type User struct {
	ID           string     `gorm:"type:char(36);primaryKey" json:"id"`                 // Primary key (UUID)
	Name         string     `gorm:"size:255;not null" json:"name"`                      // Display name
	Email        *string    `gorm:"size:255;uniqueIndex" json:"email"`                  // Unique when present
	Phone        *string    `gorm:"size:20;uniqueIndex" json:"phone"`                   // Unique when present
	PasswordHash string     `gorm:"size:255" json:"-"`                                  // Bcrypt hash, never serialized
	AuthMethod   AuthMethod `gorm:"size:16;not null" json:"auth_method"`                // How the user signs in
	IsActive     bool       `gorm:"not null" json:"is_active"`                          // Inactive users cannot log in
	SyncStatus   SyncStatus `gorm:"size:16;not null;default:synced" json:"sync_status"` // Client replication state
	CreatedAt    time.Time  `json:"created_at"`                                         // Creation time
	UpdatedAt    time.Time  `gorm:"index" json:"updated_at"`                            // Last modification, drives sync
}

// BeforeCreate assigns a UUID when the caller did not supply one
func (u *User) BeforeCreate(tx *gorm.DB) error {
	ensureID(&u.ID)
	return nil
}

// Contact returns the email or, failing that, the phone number
func (u *User) Contact() string {
	if u.Email != nil && *u.Email != "" {
		return *u.Email
	}
	if u.Phone != nil {
		return *u.Phone
	}
	return ""
}
