package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Exact decimal money
	"gorm.io/datatypes"             // JSON and date column types
	"gorm.io/gorm"                  // GORM ORM library
)

// TransactionType classifies money movement
type TransactionType string

const (
	TypeIncome     TransactionType = "income"     // Money in
	TypeExpense    TransactionType = "expense"    // Money out
	TypeInvestment TransactionType = "investment" // Money set aside
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	return t == TypeIncome || t == TypeExpense || t == TypeInvestment
}

// Transaction Model
type Transaction struct {
	ID           string          `gorm:"type:char(36);primaryKey" json:"id"`                 // Primary key (UUID)
	BudgetID     string          `gorm:"type:char(36);not null;index" json:"budget_id"`      // Owning budget
	UserID       string          `gorm:"type:char(36);not null;index" json:"user_id"`        // Author
	Amount       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`          // Always > 0
	Currency     string          `gorm:"size:3;not null" json:"currency"`                    // ISO 4217 code
	Type         TransactionType `gorm:"size:16;not null;index" json:"type"`                 // income, expense, investment
	Category     string          `gorm:"size:100;not null;index" json:"category"`            // Category name
	Subcategory  *string         `gorm:"size:100" json:"subcategory"`                        // Optional subcategory
	Description  *string         `gorm:"type:text" json:"description"`                       // Optional free text
	ExchangeRate decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"exchange_rate"`   // Always > 0, default 1
	Date         datatypes.Date  `gorm:"not null;index" json:"date"`                         // Day the money moved
	Details      datatypes.JSON  `json:"details"`                                            // Optional structured metadata
	CreatedAt    time.Time       `json:"created_at"`                                         // Creation time
	UpdatedAt    time.Time       `gorm:"index" json:"updated_at"`                            // Last modification, drives sync
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"deleted_at"`                            // Soft delete tombstone
	SyncStatus   SyncStatus      `gorm:"size:16;not null;default:synced" json:"sync_status"` // Client replication state

	Budget *Budget `gorm:"constraint:OnDelete:CASCADE" json:"-"` // FK to budgets
	User   *User   `gorm:"constraint:OnDelete:CASCADE" json:"-"` // FK to users
}

// BeforeCreate assigns a UUID and the default exchange rate
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	ensureID(&t.ID)
	if t.ExchangeRate.IsZero() {
		t.ExchangeRate = decimal.NewFromInt(1)
	}
	return nil
}
