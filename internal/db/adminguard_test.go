package db_test

import (
	"testing"
	"time"

	"budget_system/internal/db"
	"budget_system/internal/db/dbtest"
	"budget_system/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func seedUser(t *testing.T, gdb *gorm.DB, name string) *domain.User {
	t.Helper()
	email := name + "@example.com"
	u := &domain.User{Name: name, Email: &email, AuthMethod: domain.AuthEmail, IsActive: true}
	require.NoError(t, gdb.Create(u).Error)
	return u
}

func seedBudget(t *testing.T, gdb *gorm.DB, admins ...*domain.User) *domain.Budget {
	t.Helper()
	b := &domain.Budget{Name: "Home", Currency: "USD"}
	require.NoError(t, gdb.Create(b).Error)
	for _, a := range admins {
		require.NoError(t, gdb.Create(&domain.Membership{UserID: a.ID, BudgetID: b.ID, Role: domain.RoleAdmin}).Error)
	}
	return b
}

func budgetExists(t *testing.T, gdb *gorm.DB, id string) bool {
	t.Helper()
	var n int64
	require.NoError(t, gdb.Model(&domain.Budget{}).Where("id = ?", id).Count(&n).Error)
	return n == 1
}

func TestAdminGuardDeletesBudgetWithoutAdmins(t *testing.T) {
	gdb := dbtest.New(t)
	a := seedUser(t, gdb, "alice")
	viewer := seedUser(t, gdb, "vera")
	b := seedBudget(t, gdb, a)
	require.NoError(t, gdb.Create(&domain.Membership{UserID: viewer.ID, BudgetID: b.ID, Role: domain.RoleViewer}).Error)
	require.NoError(t, gdb.Create(&domain.Transaction{
		BudgetID: b.ID, UserID: a.ID, Amount: decimal.NewFromInt(5), Currency: "USD",
		Type: domain.TypeExpense, Category: "Food", Date: datatypes.Date(time.Now()),
	}).Error)

	// Raw delete, nothing in the service layer involved
	require.NoError(t, gdb.Exec("DELETE FROM memberships WHERE budget_id = ? AND user_id = ?", b.ID, a.ID).Error)

	assert.False(t, budgetExists(t, gdb, b.ID))
	var left int64
	gdb.Model(&domain.Membership{}).Where("budget_id = ?", b.ID).Count(&left)
	assert.Zero(t, left, "remaining memberships cascade with the budget")
	gdb.Unscoped().Model(&domain.Transaction{}).Where("budget_id = ?", b.ID).Count(&left)
	assert.Zero(t, left, "transactions cascade with the budget")
}

func TestAdminGuardKeepsBudgetWithAnotherAdmin(t *testing.T) {
	gdb := dbtest.New(t)
	a := seedUser(t, gdb, "alice")
	c := seedUser(t, gdb, "carol")
	b := seedBudget(t, gdb, a, c)

	require.NoError(t, gdb.Where("budget_id = ? AND user_id = ?", b.ID, a.ID).Delete(&domain.Membership{}).Error)

	assert.True(t, budgetExists(t, gdb, b.ID))
	var admins int64
	gdb.Model(&domain.Membership{}).Where("budget_id = ? AND role = ?", b.ID, domain.RoleAdmin).Count(&admins)
	assert.Equal(t, int64(1), admins)
}

func TestAdminGuardIgnoresNonAdminDeletes(t *testing.T) {
	gdb := dbtest.New(t)
	a := seedUser(t, gdb, "alice")
	e := seedUser(t, gdb, "eddie")
	b := seedBudget(t, gdb, a)
	require.NoError(t, gdb.Create(&domain.Membership{UserID: e.ID, BudgetID: b.ID, Role: domain.RoleEditor}).Error)

	require.NoError(t, gdb.Exec("DELETE FROM memberships WHERE user_id = ?", e.ID).Error)

	assert.True(t, budgetExists(t, gdb, b.ID))
}

func TestInstallAdminGuardIsRepeatable(t *testing.T) {
	gdb := dbtest.New(t)
	require.NoError(t, db.InstallAdminGuard(gdb))
	require.NoError(t, db.Migrate(gdb))

	a := seedUser(t, gdb, "alice")
	b := seedBudget(t, gdb, a)
	require.NoError(t, gdb.Exec("DELETE FROM memberships WHERE budget_id = ?", b.ID).Error)
	assert.False(t, budgetExists(t, gdb, b.ID))
}

func TestOrphanedBudgets(t *testing.T) {
	gdb := dbtest.New(t)
	a := seedUser(t, gdb, "alice")
	seedBudget(t, gdb, a)

	orphans, err := db.OrphanedBudgets(gdb)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	// A budget inserted without its admin is exactly what the lifecycle code never does
	stray := &domain.Budget{Name: "Stray", Currency: "EUR"}
	require.NoError(t, gdb.Create(stray).Error)
	orphans, err = db.OrphanedBudgets(gdb)
	require.NoError(t, err)
	assert.Equal(t, []string{stray.ID}, orphans)
}
