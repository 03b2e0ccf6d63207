package service

import (
	"context" // Request scoping
	"fmt"     // Error wrapping
	"regexp"  // Currency format
	"strings" // Search terms

	"budget_system/internal/domain" // Importing domain models
	"budget_system/internal/utils"  // Text sanitizing

	"github.com/sirupsen/logrus" // Structured logging
	"gorm.io/gorm"               // GORM ORM library
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidCurrency reports whether code is a 3-letter upper-case currency code
func ValidCurrency(code string) bool {
	return currencyPattern.MatchString(code)
}

// BudgetPatch is a partial budget update; nil fields are left alone
type BudgetPatch struct {
	Name     *string
	Currency *string
	Status   *domain.BudgetStatus
}

// BudgetDetail is a budget together with its member roster
type BudgetDetail struct {
	domain.Budget
	Members []domain.Member `json:"members"`
}

// BudgetService owns the budget lifecycle and membership management
type BudgetService struct {
	db     *gorm.DB
	access *Access
}

// NewBudgetService creates the budget lifecycle component
func NewBudgetService(db *gorm.DB, access *Access) *BudgetService {
	return &BudgetService{db: db, access: access}
}

func cleanBudgetName(name string) (string, error) {
	name = utils.CleanText(name)
	if name == "" || len(name) > 255 {
		return "", fmt.Errorf("%w: name must be 1-255 characters", domain.ErrValidation)
	}
	return name, nil
}

// Create inserts a budget and makes the creator its admin in one transaction
func (s *BudgetService) Create(ctx context.Context, name, currency, creatorID string) (*domain.Budget, error) {
	name, err := cleanBudgetName(name)
	if err != nil {
		return nil, err
	}
	if currency == "" {
		currency = "USD" // Default currency
	}
	if !ValidCurrency(currency) {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", domain.ErrValidation)
	}
	budget := domain.Budget{Name: name, Currency: currency, Status: domain.BudgetActive}
	// Atomic create: a budget never exists without its admin
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return createBudgetWithAdmin(tx, &budget, creatorID)
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": creatorID,   // Creator
			"error":   err.Error(), // Error message
		}).Error("Failed to create budget")
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":   creatorID,
		"budget_id": budget.ID,
		"currency":  budget.Currency,
	}).Info("Budget created")
	return &budget, nil
}

// createBudgetWithAdmin is shared by Create and sync push
func createBudgetWithAdmin(tx *gorm.DB, budget *domain.Budget, creatorID string) error {
	if err := tx.Create(budget).Error; err != nil {
		return err // Return error to rollback
	}
	m := domain.Membership{UserID: creatorID, BudgetID: budget.ID, Role: domain.RoleAdmin}
	return tx.Create(&m).Error
}

// List returns the active budgets the user belongs to, newest first
func (s *BudgetService) List(ctx context.Context, userID, search string, limit, offset int) ([]domain.Budget, int64, error) {
	limit, offset = clampPage(limit, offset)
	scope, args := readScope("budgets.id", userID)
	query := s.db.WithContext(ctx).Model(&domain.Budget{}).
		Where(scope, args...).
		Where("status = ?", domain.BudgetActive)
	if search = strings.TrimSpace(search); search != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var budgets []domain.Budget
	if err := query.Order("created_at desc").Offset(offset).Limit(limit).Find(&budgets).Error; err != nil {
		return nil, 0, err
	}
	return budgets, total, nil
}

// Get returns an active budget the user belongs to, with its roster
func (s *BudgetService) Get(ctx context.Context, budgetID, userID string) (*BudgetDetail, error) {
	if !s.access.CanRead(ctx, userID, budgetID) {
		return nil, fmt.Errorf("budget %s: %w", budgetID, domain.ErrNotFound)
	}
	db := s.db.WithContext(ctx)
	var detail BudgetDetail
	if err := db.First(&detail.Budget, "id = ? AND status = ?", budgetID, domain.BudgetActive).Error; err != nil {
		return nil, notFound(err, "budget "+budgetID)
	}
	var err error
	if detail.Members, err = roster(db, budgetID); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Members returns the roster of a budget the user belongs to
func (s *BudgetService) Members(ctx context.Context, budgetID, userID string) ([]domain.Member, error) {
	if !s.access.CanRead(ctx, userID, budgetID) {
		return nil, fmt.Errorf("budget %s: %w", budgetID, domain.ErrNotFound)
	}
	return roster(s.db.WithContext(ctx), budgetID)
}

func roster(tx *gorm.DB, budgetID string) ([]domain.Member, error) {
	var members []domain.Member
	err := tx.Table("memberships AS m").
		Select("m.user_id AS user_id, u.name AS name, m.role AS role, m.joined_at AS joined_at").
		Joins("JOIN users AS u ON u.id = m.user_id").
		Where("m.budget_id = ?", budgetID).
		Order("m.joined_at, m.user_id").
		Scan(&members).Error
	return members, err
}

// Update applies a partial update; requires admin or editor on an active budget
func (s *BudgetService) Update(ctx context.Context, budgetID string, patch BudgetPatch, userID string) (*domain.Budget, error) {
	updates := map[string]any{}
	if patch.Name != nil {
		name, err := cleanBudgetName(*patch.Name)
		if err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if patch.Currency != nil {
		if !ValidCurrency(*patch.Currency) {
			return nil, fmt.Errorf("%w: currency must be a 3-letter code", domain.ErrValidation)
		}
		updates["currency"] = *patch.Currency
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, *patch.Status)
		}
		updates["status"] = *patch.Status
		if *patch.Status == domain.BudgetArchived {
			updates["archived_at"] = utcNow() // archived_at is set iff archived
		}
	}

	var budget domain.Budget
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireGrant(tx, userID, budgetID, domain.EditRoles, true, false); err != nil {
			return err
		}
		if err := tx.First(&budget, "id = ?", budgetID).Error; err != nil {
			return notFound(err, "budget "+budgetID)
		}
		if len(updates) == 0 {
			return nil // Nothing to change
		}
		if err := tx.Model(&budget).Updates(updates).Error; err != nil { // Also bumps updated_at
			return err
		}
		return tx.First(&budget, "id = ?", budgetID).Error
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "budget_id": budgetID, "fields": len(updates)}).Info("Budget updated")
	return &budget, nil
}

// Archive moves an active budget to archived. Only admins may archive, and an
// already archived budget is reported as not found rather than re-archived.
func (s *BudgetService) Archive(ctx context.Context, budgetID, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireGrant(tx, userID, budgetID, domain.AdminRoles, true, false); err != nil {
			return err
		}
		now := utcNow()
		res := tx.Model(&domain.Budget{}).
			Where("id = ? AND status = ?", budgetID, domain.BudgetActive).
			Updates(map[string]any{"status": domain.BudgetArchived, "archived_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("active budget %s: %w", budgetID, domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "budget_id": budgetID}).Info("Budget archived")
	return nil
}

// Delete hard-deletes a budget; memberships, transactions and recurring
// transactions go with it through foreign-key cascades
func (s *BudgetService) Delete(ctx context.Context, budgetID, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireGrant(tx, userID, budgetID, domain.AdminRoles, false, false); err != nil {
			return err
		}
		res := tx.Where("id = ?", budgetID).Delete(&domain.Budget{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("budget %s: %w", budgetID, domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "budget_id": budgetID}).Info("Budget deleted")
	return nil
}

// AddMember grants role on an active budget to targetUserID; actor must be admin
func (s *BudgetService) AddMember(ctx context.Context, budgetID, targetUserID string, role domain.Role, actorID string) (*domain.Membership, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}
	var m domain.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireGrant(tx, actorID, budgetID, domain.AdminRoles, true, false); err != nil {
			return err
		}
		if !domain.ValidID(targetUserID) {
			return fmt.Errorf("user %s: %w", targetUserID, domain.ErrNotFound)
		}
		var target domain.User
		if err := tx.Select("id").First(&target, "id = ?", targetUserID).Error; err != nil {
			return notFound(err, "user "+targetUserID)
		}
		var existing int64
		if err := tx.Model(&domain.Membership{}).Where("user_id = ? AND budget_id = ?", targetUserID, budgetID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("%w: %w", domain.ErrConflict, domain.ErrAlreadyMember)
		}
		m = domain.Membership{UserID: targetUserID, BudgetID: budgetID, Role: role}
		return tx.Create(&m).Error
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"actor_id":  actorID,
		"user_id":   targetUserID,
		"budget_id": budgetID,
		"role":      role,
	}).Info("Member added")
	return &m, nil
}

// RemoveMember revokes targetUserID's membership. Removing the last admin is
// rejected before anything is deleted; the store trigger still backs this up.
func (s *BudgetService) RemoveMember(ctx context.Context, budgetID, targetUserID, actorID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireGrant(tx, actorID, budgetID, domain.AdminRoles, false, false); err != nil {
			return err
		}
		target, err := loadMembership(tx, budgetID, targetUserID)
		if err != nil {
			return err
		}
		if target.Role == domain.RoleAdmin {
			if err := guardLastAdmin(tx, budgetID, targetUserID); err != nil {
				return err
			}
		}
		if err := tx.Delete(target).Error; err != nil {
			return err
		}
		return budgetSurvived(tx, budgetID)
	})
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"actor_id": actorID, "user_id": targetUserID, "budget_id": budgetID}).Info("Member removed")
	return nil
}

// UpdateRole overwrites targetUserID's role, refusing to demote the last admin
func (s *BudgetService) UpdateRole(ctx context.Context, budgetID, targetUserID string, role domain.Role, actorID string) (*domain.Membership, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}
	var target *domain.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireGrant(tx, actorID, budgetID, domain.AdminRoles, false, false); err != nil {
			return err
		}
		var err error
		if target, err = loadMembership(tx, budgetID, targetUserID); err != nil {
			return err
		}
		if target.Role == domain.RoleAdmin && role != domain.RoleAdmin {
			if err := guardLastAdmin(tx, budgetID, targetUserID); err != nil {
				return err
			}
		}
		target.Role = role
		return tx.Model(target).Update("role", role).Error
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"actor_id": actorID, "user_id": targetUserID, "budget_id": budgetID, "role": role}).Info("Member role updated")
	return target, nil
}

// CountAdmins counts admin memberships of a budget
func (s *BudgetService) CountAdmins(ctx context.Context, budgetID string) (int64, error) {
	return countAdmins(s.db.WithContext(ctx), budgetID, "")
}

func countAdmins(tx *gorm.DB, budgetID, excludeUserID string) (int64, error) {
	var n int64
	q := tx.Model(&domain.Membership{}).Where("budget_id = ? AND role = ?", budgetID, domain.RoleAdmin)
	if excludeUserID != "" {
		q = q.Where("user_id <> ?", excludeUserID)
	}
	return n, q.Count(&n).Error
}

// guardLastAdmin recounts, under lock where available, the admins that would
// remain once excludeUserID stops being one
func guardLastAdmin(tx *gorm.DB, budgetID, excludeUserID string) error {
	var locked []domain.Membership
	if err := forUpdate(tx).Select("id").Where("budget_id = ? AND role = ?", budgetID, domain.RoleAdmin).Find(&locked).Error; err != nil {
		return err
	}
	remaining, err := countAdmins(tx, budgetID, excludeUserID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		return fmt.Errorf("%w: %w", domain.ErrConflict, domain.ErrLastAdmin)
	}
	return nil
}

// budgetSurvived fails the transaction if the admin-guard trigger removed the
// budget, which only happens when a concurrent change raced the guard above
func budgetSurvived(tx *gorm.DB, budgetID string) error {
	var n int64
	if err := tx.Model(&domain.Budget{}).Where("id = ?", budgetID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %w", domain.ErrConflict, domain.ErrLastAdmin)
	}
	return nil
}

func loadMembership(tx *gorm.DB, budgetID, userID string) (*domain.Membership, error) {
	if !domain.ValidID(userID) {
		return nil, fmt.Errorf("member %s: %w", userID, domain.ErrNotFound)
	}
	var m domain.Membership
	if err := tx.First(&m, "budget_id = ? AND user_id = ?", budgetID, userID).Error; err != nil {
		return nil, notFound(err, "member "+userID)
	}
	return &m, nil
}

// fallbackPageSize applies when a caller passes no limit. The HTTP layer
// always sends one, bounded by DEFAULT_PAGE_SIZE and MAX_PAGE_SIZE.
const fallbackPageSize = 10

// clampPage fills in a missing limit and keeps offset non-negative. Upper
// bounds are the caller's: they come from configuration.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = fallbackPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
