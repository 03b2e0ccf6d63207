package service

import (
	"context"
	"testing"
	"time"

	"budget_system/internal/db/dbtest"
	"budget_system/internal/domain"
	"budget_system/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type env struct {
	db           *gorm.DB
	cache        *utils.MemoryCache
	access       *Access
	budgets      *BudgetService
	transactions *TransactionService
	recurring    *RecurringService
	users        *UserService
	sync         *SyncService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gdb := dbtest.New(t)
	access := NewAccess(gdb)
	cache := utils.NewMemoryCache()
	return &env{
		db:           gdb,
		cache:        cache,
		access:       access,
		budgets:      NewBudgetService(gdb, access),
		transactions: NewTransactionService(gdb),
		recurring:    NewRecurringService(gdb),
		users:        NewUserService(gdb, cache, time.Minute),
		sync:         NewSyncService(gdb),
	}
}

// user inserts an account directly; password hashing is exercised in user_test.go
func (e *env) user(t *testing.T, name string) *domain.User {
	t.Helper()
	email := name + "@example.com"
	u := &domain.User{Name: name, Email: &email, AuthMethod: domain.AuthEmail, IsActive: true}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

func (e *env) budget(t *testing.T, owner *domain.User) *domain.Budget {
	t.Helper()
	b, err := e.budgets.Create(context.Background(), "Household", "USD", owner.ID)
	require.NoError(t, err)
	return b
}

func (e *env) member(t *testing.T, b *domain.Budget, admin, target *domain.User, role domain.Role) {
	t.Helper()
	_, err := e.budgets.AddMember(context.Background(), b.ID, target.ID, role, admin.ID)
	require.NoError(t, err)
}

func (e *env) expense(t *testing.T, b *domain.Budget, author *domain.User, amount int64, category string) *domain.Transaction {
	t.Helper()
	tx, err := e.transactions.Create(context.Background(), TransactionInput{
		BudgetID: b.ID,
		Amount:   decimal.NewFromInt(amount),
		Currency: "USD",
		Type:     domain.TypeExpense,
		Category: category,
		Date:     time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
	}, author.ID)
	require.NoError(t, err)
	return tx
}

func (e *env) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Unscoped().Model(model).Where(query, args...).Count(&n).Error)
	return n
}
