package service

import (
	"context" // Request scoping
	"fmt"     // Error wrapping
	"time"    // Execution dates

	"budget_system/internal/domain" // Importing domain models
	"budget_system/internal/utils"  // Text sanitizing

	"github.com/shopspring/decimal" // Exact decimal money
	"github.com/sirupsen/logrus"    // Structured logging
	"gorm.io/gorm"                  // GORM ORM library
)

// RecurringInput carries the fields of a new recurring transaction
type RecurringInput struct {
	BudgetID      string
	Schedule      domain.Schedule
	RecurringType domain.RecurringType // Empty means automatic
	Amount        decimal.Decimal
	Currency      string
	Type          domain.TransactionType
	Category      string
	Subcategory   *string
	Description   *string
	NextExecution time.Time
}

// RecurringPatch is a partial update; nil fields are left alone
type RecurringPatch struct {
	Schedule      *domain.Schedule
	RecurringType *domain.RecurringType
	Amount        *decimal.Decimal
	Currency      *string
	Type          *domain.TransactionType
	Category      *string
	Subcategory   *string
	Description   *string
	IsActive      *bool
	NextExecution *time.Time
}

// RecurringService is scoped CRUD over recurring transactions. The schedule is
// stored only; nothing turns it into transactions.
type RecurringService struct {
	db *gorm.DB
}

// NewRecurringService creates the recurring transaction component
func NewRecurringService(db *gorm.DB) *RecurringService {
	return &RecurringService{db: db}
}

func (in *RecurringInput) build(userID string) (*domain.RecurringTransaction, error) {
	if !in.Schedule.Valid() {
		return nil, fmt.Errorf("%w: unknown schedule %q", domain.ErrValidation, in.Schedule)
	}
	if in.RecurringType == "" {
		in.RecurringType = domain.RecurringAutomatic
	}
	if !in.RecurringType.Valid() {
		return nil, fmt.Errorf("%w: unknown recurring type %q", domain.ErrValidation, in.RecurringType)
	}
	if err := positive("amount", in.Amount); err != nil {
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
	if in.NextExecution.IsZero() {
		return nil, fmt.Errorf("%w: next_execution is required", domain.ErrValidation)
	}
	category, err := cleanCategory(in.Category)
	if err != nil {
		return nil, err
	}
	sub, err := cleanSubcategory(in.Subcategory)
	if err != nil {
		return nil, err
	}
	return &domain.RecurringTransaction{
		BudgetID:      in.BudgetID,
		UserID:        userID,
		Schedule:      in.Schedule,
		RecurringType: in.RecurringType,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Type:          in.Type,
		Category:      category,
		Subcategory:   sub,
		Description:   utils.CleanOptional(in.Description),
		IsActive:      true, // New schedules start active
		NextExecution: dateOnly(in.NextExecution),
		SyncStatus:    domain.SyncSynced,
	}, nil
}

// Create inserts a recurring transaction; same access rule as transactions
func (s *RecurringService) Create(ctx context.Context, in RecurringInput, userID string) (*domain.RecurringTransaction, error) {
	r, err := in.build(userID)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireGrant(tx, userID, in.BudgetID, domain.EditRoles, true, true); err != nil {
			return err
		}
		return tx.Create(r).Error
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":      userID,
		"budget_id":    r.BudgetID,
		"recurring_id": r.ID,
		"schedule":     r.Schedule,
	}).Info("Recurring transaction created")
	return r, nil
}

// List returns recurring transactions in budgets the user belongs to
func (s *RecurringService) List(ctx context.Context, userID, budgetID string, isActive *bool) ([]domain.RecurringTransaction, error) {
	scope, args := readScope("recurring_transactions.budget_id", userID)
	query := s.db.WithContext(ctx).Where(scope, args...)
	if budgetID != "" {
		query = query.Where("budget_id = ?", budgetID)
	}
	if isActive != nil {
		query = query.Where("is_active = ?", *isActive)
	}
	var items []domain.RecurringTransaction
	err := query.Order("next_execution").Order("created_at").Find(&items).Error
	return items, err
}

// Get returns a recurring transaction in a budget the user belongs to
func (s *RecurringService) Get(ctx context.Context, id, userID string) (*domain.RecurringTransaction, error) {
	if !domain.ValidID(id) {
		return nil, fmt.Errorf("recurring transaction %s: %w", id, domain.ErrNotFound)
	}
	var r domain.RecurringTransaction
	scope, args := readScope("recurring_transactions.budget_id", userID)
	if err := s.db.WithContext(ctx).Where("recurring_transactions.id = ?", id).Where(scope, args...).Take(&r).Error; err != nil {
		return nil, notFound(err, "recurring transaction "+id)
	}
	return &r, nil
}

// Update applies a partial update; requires admin or editor on the row's budget
func (s *RecurringService) Update(ctx context.Context, id string, patch RecurringPatch, userID string) (*domain.RecurringTransaction, error) {
	updates, err := patch.columns()
	if err != nil {
		return nil, err
	}
	var r *domain.RecurringTransaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if r, err = loadEditable[domain.RecurringTransaction](tx, "recurring_transactions", id, userID); err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(r).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(r, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "recurring_id": id, "fields": len(updates)}).Info("Recurring transaction updated")
	return r, nil
}

func (p *RecurringPatch) columns() (map[string]any, error) {
	updates := map[string]any{}
	if p.Schedule != nil {
		if !p.Schedule.Valid() {
			return nil, fmt.Errorf("%w: unknown schedule %q", domain.ErrValidation, *p.Schedule)
		}
		updates["schedule"] = *p.Schedule
	}
	if p.RecurringType != nil {
		if !p.RecurringType.Valid() {
			return nil, fmt.Errorf("%w: unknown recurring type %q", domain.ErrValidation, *p.RecurringType)
		}
		updates["recurring_type"] = *p.RecurringType
	}
	if p.Amount != nil {
		if err := positive("amount", *p.Amount); err != nil {
			return nil, err
		}
		updates["amount"] = *p.Amount
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
	if p.IsActive != nil {
		updates["is_active"] = *p.IsActive
	}
	if p.NextExecution != nil {
		updates["next_execution"] = dateOnly(*p.NextExecution)
	}
	return updates, nil
}

// Delete removes a recurring transaction for good
func (s *RecurringService) Delete(ctx context.Context, id, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := loadEditable[domain.RecurringTransaction](tx, "recurring_transactions", id, userID)
		if err != nil {
			return err
		}
		return tx.Delete(r).Error
	})
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "recurring_id": id}).Info("Recurring transaction deleted")
	return nil
}
