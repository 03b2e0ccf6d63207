package service

import (
	"context" // Request scoping
	"fmt"     // Error wrapping
	"time"    // Dates and tombstones

	"budget_system/internal/domain" // Importing domain models
	"budget_system/internal/utils"  // Text sanitizing

	"github.com/shopspring/decimal" // Exact decimal money
	"github.com/sirupsen/logrus"    // Structured logging
	"gorm.io/datatypes"             // JSON and date column types
	"gorm.io/gorm"                  // GORM ORM library
)

// TransactionInput carries the fields of a new transaction
type TransactionInput struct {
	BudgetID     string
	Amount       decimal.Decimal
	Currency     string
	Type         domain.TransactionType
	Category     string
	Subcategory  *string
	Description  *string
	ExchangeRate decimal.Decimal // Zero means 1
	Date         time.Time
	Details      datatypes.JSON
}

// TransactionPatch is a partial update; nil fields are left alone
type TransactionPatch struct {
	Amount       *decimal.Decimal
	Currency     *string
	Type         *domain.TransactionType
	Category     *string
	Subcategory  *string
	Description  *string
	ExchangeRate *decimal.Decimal
	Date         *time.Time
	Details      datatypes.JSON
}

// TransactionFilter narrows List; zero values match everything
type TransactionFilter struct {
	BudgetID  string
	Type      domain.TransactionType
	Category  string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// TransactionService is scoped CRUD over transactions
type TransactionService struct {
	db *gorm.DB
}

// NewTransactionService creates the transaction component
func NewTransactionService(db *gorm.DB) *TransactionService {
	return &TransactionService{db: db}
}

func cleanCategory(category string) (string, error) {
	category = utils.CleanText(category)
	if category == "" || len(category) > 100 {
		return "", fmt.Errorf("%w: category must be 1-100 characters", domain.ErrValidation)
	}
	return category, nil
}

func cleanSubcategory(sub *string) (*string, error) {
	sub = utils.CleanOptional(sub)
	if sub != nil && len(*sub) > 100 {
		return nil, fmt.Errorf("%w: subcategory must be at most 100 characters", domain.ErrValidation)
	}
	return sub, nil
}

// dateOnly pins a calendar day to UTC midnight so stored dates compare consistently
func dateOnly(t time.Time) datatypes.Date {
	y, m, d := t.Date()
	return datatypes.Date(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func positive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than 0", domain.ErrValidation, field)
	}
	return nil
}

func (in *TransactionInput) build(userID string) (*domain.Transaction, error) {
	if err := positive("amount", in.Amount); err != nil {
		return nil, err
	}
	if in.ExchangeRate.IsZero() {
		in.ExchangeRate = decimal.NewFromInt(1)
	}
	if err := positive("exchange_rate", in.ExchangeRate); err != nil {
		return nil, err
	}
	if in.Currency == "" {
		in.Currency = "USD"
	}
	if !ValidCurrency(in.Currency) {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", domain.ErrValidation)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", domain.ErrValidation, in.Type)
	}
	if in.Date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", domain.ErrValidation)
	}
	category, err := cleanCategory(in.Category)
	if err != nil {
		return nil, err
	}
	sub, err := cleanSubcategory(in.Subcategory)
	if err != nil {
		return nil, err
	}
	return &domain.Transaction{
		BudgetID:     in.BudgetID,
		UserID:       userID,
		Amount:       in.Amount,
		Currency:     in.Currency,
		Type:         in.Type,
		Category:     category,
		Subcategory:  sub,
		Description:  utils.CleanOptional(in.Description),
		ExchangeRate: in.ExchangeRate,
		Date:         dateOnly(in.Date),
		Details:      in.Details,
		SyncStatus:   domain.SyncSynced,
	}, nil
}

// Create inserts a transaction authored by userID. The caller must be admin or
// editor of the active budget; viewers get ErrForbidden, strangers ErrNotFound.
func (s *TransactionService) Create(ctx context.Context, in TransactionInput, userID string) (*domain.Transaction, error) {
	t, err := in.build(userID)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireGrant(tx, userID, in.BudgetID, domain.EditRoles, true, true); err != nil {
			return err
		}
		return tx.Create(t).Error
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id":   userID,
			"budget_id": in.BudgetID,
			"error":     err.Error(),
		}).Warn("Transaction not created")
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":        userID,
		"budget_id":      t.BudgetID,
		"transaction_id": t.ID,
		"amount":         t.Amount.String(),
		"type":           t.Type,
	}).Info("Transaction created")
	return t, nil
}

// List returns live transactions in budgets the user belongs to, newest date first
func (s *TransactionService) List(ctx context.Context, userID string, f TransactionFilter) ([]domain.Transaction, int64, error) {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	scope, args := readScope("transactions.budget_id", userID)
	query := s.db.WithContext(ctx).Model(&domain.Transaction{}).Where(scope, args...)
	if f.BudgetID != "" {
		query = query.Where("budget_id = ?", f.BudgetID)
	}
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.Category != "" {
		query = query.Where("category = ?", f.Category)
	}
	if f.StartDate != nil {
		query = query.Where("date >= ?", dateOnly(*f.StartDate))
	}
	if f.EndDate != nil {
		query = query.Where("date <= ?", dateOnly(*f.EndDate))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []domain.Transaction
	err := query.Order("date desc").Order("created_at desc").Offset(f.Offset).Limit(f.Limit).Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Get returns a live transaction in a budget the user belongs to
func (s *TransactionService) Get(ctx context.Context, id, userID string) (*domain.Transaction, error) {
	if !domain.ValidID(id) {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	var t domain.Transaction
	scope, args := readScope("transactions.budget_id", userID)
	err := s.db.WithContext(ctx).Where("transactions.id = ?", id).Where(scope, args...).Take(&t).Error
	if err != nil {
		return nil, notFound(err, "transaction "+id)
	}
	return &t, nil
}

// Update applies a partial update; requires edit access to the row's budget
func (s *TransactionService) Update(ctx context.Context, id string, patch TransactionPatch, userID string) (*domain.Transaction, error) {
	updates, err := patch.columns()
	if err != nil {
		return nil, err
	}
	var t *domain.Transaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if t, err = loadEditable[domain.Transaction](tx, "transactions", id, userID); err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(t).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(t, "id = ?", id).Error // Reload decoded column values
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "transaction_id": id, "fields": len(updates)}).Info("Transaction updated")
	return t, nil
}

func (p *TransactionPatch) columns() (map[string]any, error) {
	updates := map[string]any{}
	if p.Amount != nil {
		if err := positive("amount", *p.Amount); err != nil {
			return nil, err
		}
		updates["amount"] = *p.Amount
	}
	if p.ExchangeRate != nil {
		if err := positive("exchange_rate", *p.ExchangeRate); err != nil {
			return nil, err
		}
		updates["exchange_rate"] = *p.ExchangeRate
	}
	if p.Currency != nil {
		if !ValidCurrency(*p.Currency) {
			return nil, fmt.Errorf("%w: currency must be a 3-letter code", domain.ErrValidation)
		}
		updates["currency"] = *p.Currency
	}
	if p.Type != nil {
		if !p.Type.Valid() {
			return nil, fmt.Errorf("%w: unknown transaction type %q", domain.ErrValidation, *p.Type)
		}
		updates["type"] = *p.Type
	}
	if p.Category != nil {
		category, err := cleanCategory(*p.Category)
		if err != nil {
			return nil, err
		}
		updates["category"] = category
	}
	if p.Subcategory != nil {
		sub, err := cleanSubcategory(p.Subcategory)
		if err != nil {
			return nil, err
		}
		updates["subcategory"] = sub
	}
	if p.Description != nil {
		updates["description"] = utils.CleanOptional(p.Description)
	}
	if p.Date != nil {
		updates["date"] = dateOnly(*p.Date)
	}
	if p.Details != nil {
		updates["details"] = p.Details
	}
	return updates, nil
}

// Delete tombstones a transaction. updated_at moves with deleted_at so sync
// pulls pick the deletion up.
func (s *TransactionService) Delete(ctx context.Context, id, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := loadEditable[domain.Transaction](tx, "transactions", id, userID)
		if err != nil {
			return err
		}
		now := utcNow()
		return tx.Model(t).UpdateColumns(map[string]any{"deleted_at": now, "updated_at": now}).Error
	})
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "transaction_id": id}).Info("Transaction deleted")
	return nil
}
