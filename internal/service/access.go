package service

import (
	"context" // Request scoping
	"errors"  // Error matching
	"fmt"     // Error wrapping
	"slices"  // Role set membership
	"time"    // Clock

	"budget_system/internal/domain" // Importing domain models

	"github.com/sirupsen/logrus" // Structured logging
	"gorm.io/gorm"               // GORM ORM library
	"gorm.io/gorm/clause"        // Row locking
)

// Access answers role questions about a (user, budget) pair. Every answer is
// read from the store; the profile cache is never consulted.
type Access struct {
	db *gorm.DB
}

// NewAccess creates the access-control component
func NewAccess(db *gorm.DB) *Access {
	return &Access{db: db}
}

// grant is a user's membership role together with the budget's status
type grant struct {
	Role   domain.Role
	Status domain.BudgetStatus
}

// lookupGrant returns the caller's grant on a budget, or nil when there is none.
// Malformed identifiers are treated as "no grant".
func lookupGrant(tx *gorm.DB, userID, budgetID string) (*grant, error) {
	if !domain.ValidID(budgetID) || !domain.ValidID(userID) {
		return nil, nil // Fail closed on malformed IDs
	}
	var g grant
	res := tx.Table("memberships AS m").
		Select("m.role AS role, b.status AS status").
		Joins("JOIN budgets AS b ON b.id = m.budget_id").
		Where("m.user_id = ? AND m.budget_id = ?", userID, budgetID).
		Limit(1).
		Scan(&g)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || g.Role == "" {
		return nil, nil
	}
	return &g, nil
}

// allows reports whether the grant carries one of roles, optionally on an active budget only
func (g *grant) allows(roles []domain.Role, activeOnly bool) bool {
	if g == nil || !slices.Contains(roles, g.Role) {
		return false
	}
	return !activeOnly || g.Status == domain.BudgetActive
}

// requireGrant checks the caller's role inside tx. Non-members get ErrNotFound so
// budget existence never leaks; members without a suitable role get ErrForbidden
// when forbidMembers is set and ErrNotFound otherwise.
func requireGrant(tx *gorm.DB, userID, budgetID string, roles []domain.Role, activeOnly, forbidMembers bool) error {
	g, err := lookupGrant(tx, userID, budgetID)
	if err != nil {
		return err
	}
	if g.allows(roles, activeOnly) {
		return nil
	}
	if g != nil && forbidMembers && (!activeOnly || g.Status == domain.BudgetActive) {
		return fmt.Errorf("%w: role %s cannot modify budget %s", domain.ErrForbidden, g.Role, budgetID)
	}
	return fmt.Errorf("budget %s: %w", budgetID, domain.ErrNotFound)
}

// HasAccess reports whether userID holds one of roles on budgetID. Write-capable
// role sets additionally require the budget to be active.
func (a *Access) HasAccess(ctx context.Context, userID, budgetID string, roles []domain.Role) bool {
	g, err := lookupGrant(a.db.WithContext(ctx), userID, budgetID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id":   userID,
			"budget_id": budgetID,
			"error":     err.Error(),
		}).Error("Access lookup failed") // Store failures deny access
		return false
	}
	activeOnly := !slices.Contains(roles, domain.RoleViewer)
	return g.allows(roles, activeOnly)
}

// CanRead reports whether the user is any kind of member of the budget
func (a *Access) CanRead(ctx context.Context, userID, budgetID string) bool {
	return a.HasAccess(ctx, userID, budgetID, domain.ReadRoles)
}

// CanEdit reports whether the user is an admin or editor of an active budget
func (a *Access) CanEdit(ctx context.Context, userID, budgetID string) bool {
	return a.HasAccess(ctx, userID, budgetID, domain.EditRoles)
}

// IsAdmin reports whether the user's membership role is admin
func (a *Access) IsAdmin(ctx context.Context, userID, budgetID string) bool {
	g, err := lookupGrant(a.db.WithContext(ctx), userID, budgetID)
	if err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "budget_id": budgetID, "error": err.Error()}).Error("Access lookup failed")
		return false
	}
	return g.allows(domain.AdminRoles, false)
}

// readScope restricts rows to budgets userID belongs to. col is the budget id
// column of the row being filtered, e.g. "transactions.budget_id".
func readScope(col, userID string) (string, []any) {
	return "EXISTS (SELECT 1 FROM memberships m WHERE m.budget_id = " + col + " AND m.user_id = ?)", []any{userID}
}

// editScope restricts rows to active budgets where userID is admin or editor
func editScope(col, userID string) (string, []any) {
	q := "EXISTS (SELECT 1 FROM memberships m JOIN budgets b ON b.id = m.budget_id" +
		" WHERE m.budget_id = " + col + " AND m.user_id = ? AND m.role IN ? AND b.status = ?)"
	return q, []any{userID, domain.EditRoles, domain.BudgetActive}
}

// loadEditable loads row id of table for modification. Members who may only
// read it get ErrForbidden; everyone else gets ErrNotFound.
func loadEditable[T any](tx *gorm.DB, table, id, userID string) (*T, error) {
	if !domain.ValidID(id) {
		return nil, fmt.Errorf("%s %s: %w", table, id, domain.ErrNotFound)
	}
	var row T
	q, args := editScope(table+".budget_id", userID)
	err := forUpdate(tx).Where(table+".id = ?", id).Where(q, args...).Take(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	var readable int64
	q, args = readScope(table+".budget_id", userID)
	if err := tx.Model(new(T)).Where(table+".id = ?", id).Where(q, args...).Count(&readable).Error; err != nil {
		return nil, err
	}
	if readable > 0 {
		return nil, fmt.Errorf("%w: cannot modify %s %s", domain.ErrForbidden, table, id)
	}
	return nil, fmt.Errorf("%s %s: %w", table, id, domain.ErrNotFound)
}

// forUpdate adds a row lock where the dialect supports one
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx // SQLite serializes writers already
}

// utcNow matches the store clock: UTC, millisecond precision
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// notFound maps gorm's missing-row error onto the domain taxonomy
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}
