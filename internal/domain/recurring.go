package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Schedule is how often a recurring transaction repeats
type Schedule string

const (
	ScheduleDaily   Schedule = "daily"
	ScheduleWeekly  Schedule = "weekly"
	ScheduleMonthly Schedule = "monthly"
	ScheduleYearly  Schedule = "yearly"
)

// Valid reports whether s is a known schedule
func (s Schedule) Valid() bool {
	return s == ScheduleDaily || s == ScheduleWeekly || s == ScheduleMonthly || s == ScheduleYearly
}

// RecurringType says whether a recurrence books itself or only reminds
type RecurringType string

const (
	RecurringAutomatic RecurringType = "automatic"
	RecurringReminder  RecurringType = "reminder"
)

// Valid reports whether t is a known recurring type
func (t RecurringType) Valid() bool {
	return t == RecurringAutomatic || t == RecurringReminder
}

// RecurringTransaction Model. NextExecution is bookkeeping only; nothing
// materializes recurrences into transactions.
type RecurringTransaction struct {
	ID            string          `gorm:"type:char(36);primaryKey" json:"id"`
	BudgetID      string          `gorm:"type:char(36);not null;index" json:"budget_id"`
	UserID        string          `gorm:"type:char(36);not null;index" json:"user_id"`
	Schedule      Schedule        `gorm:"size:16;not null" json:"schedule"`
	RecurringType RecurringType   `gorm:"size:16;not null" json:"recurring_type"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	Currency      string          `gorm:"size:3;not null" json:"currency"`
	Type          TransactionType `gorm:"size:16;not null" json:"type"`
	Category      string          `gorm:"size:100;not null" json:"category"`
	Subcategory   *string         `gorm:"size:100" json:"subcategory"`
	Description   *string         `gorm:"type:text" json:"description"`
	IsActive      bool            `gorm:"not null;index" json:"is_active"`
	NextExecution datatypes.Date  `gorm:"not null" json:"next_execution"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `gorm:"index" json:"updated_at"`
	SyncStatus    SyncStatus      `gorm:"size:16;not null;default:synced" json:"sync_status"`

	Budget *Budget `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	User   *User   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (r *RecurringTransaction) BeforeCreate(tx *gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
