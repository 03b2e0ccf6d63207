package domain

import (
	"time" // Timestamps

	"gorm.io/gorm" // GORM ORM library
)

// Role is a user's grant on a budget
type Role string

const (
	RoleAdmin  Role = "admin"  // Full control including membership management
	RoleEditor Role = "editor" // Read and write transactions
	RoleViewer Role = "viewer" // Read only
)

// Role sets used by access checks
var (
	ReadRoles  = []Role{RoleAdmin, RoleEditor, RoleViewer}
	EditRoles  = []Role{RoleAdmin, RoleEditor}
	AdminRoles = []Role{RoleAdmin}
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleEditor || r == RoleViewer
}

// Membership Model, the user-budget access edge
type Membership struct {
	ID       string    `gorm:"type:char(36);primaryKey" json:"id"`                                           // Primary key (UUID)
	UserID   string    `gorm:"type:char(36);not null;uniqueIndex:idx_membership_user_budget" json:"user_id"` // Member
	BudgetID string    `gorm:"type:char(36);not null;uniqueIndex:idx_membership_user_budget;index" json:"budget_id"`
	Role     Role      `gorm:"size:16;not null;index" json:"role"` // admin, editor, viewer
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`    // When the grant was made

	User   *User   `gorm:"constraint:OnDelete:CASCADE" json:"-"` // FK to users
	Budget *Budget `gorm:"constraint:OnDelete:CASCADE" json:"-"` // FK to budgets
}

// TableName pins the table the admin-guard trigger is attached to
func (Membership) TableName() string {
	return "memberships"
}

// BeforeCreate assigns a UUID when missing
func (m *Membership) BeforeCreate(tx *gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

// Member is a roster entry returned with a budget
type Member struct {
	UserID   string    `json:"user_id"`   // Member user ID
	Name     string    `json:"name"`      // Member display name
	Role     Role      `json:"role"`      // Member role
	JoinedAt time.Time `json:"joined_at"` // When the grant was made
}
