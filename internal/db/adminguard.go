package db

import (
	"fmt" // Error wrapping

	"gorm.io/gorm" // GORM ORM library
)

// AdminGuardTrigger is the name of the membership delete trigger
const AdminGuardTrigger = "trg_memberships_admin_guard"

// After a membership row is deleted, a budget left with no admin membership is
// deleted with it. The trigger runs inside the deleting statement's transaction,
// so it holds for every path that removes memberships, service code or not.
const sqliteAdminGuard = `
CREATE TRIGGER ` + AdminGuardTrigger + `
AFTER DELETE ON memberships
FOR EACH ROW
WHEN OLD.role = 'admin' AND NOT EXISTS (
	SELECT 1 FROM memberships WHERE budget_id = OLD.budget_id AND role = 'admin'
)
BEGIN
	DELETE FROM budgets WHERE id = OLD.budget_id;
END`

const mysqlAdminGuard = `
CREATE TRIGGER ` + AdminGuardTrigger + `
AFTER DELETE ON memberships
FOR EACH ROW
BEGIN
	IF OLD.role = 'admin' AND NOT EXISTS (
		SELECT 1 FROM memberships WHERE budget_id = OLD.budget_id AND role = 'admin'
	) THEN
		DELETE FROM budgets WHERE id = OLD.budget_id;
	END IF;
END`

// InstallAdminGuard (re)creates the trigger for the connected dialect
func InstallAdminGuard(db *gorm.DB) error {
	var ddl string
	switch db.Dialector.Name() {
	case "sqlite":
		ddl = sqliteAdminGuard
	case "mysql":
		ddl = mysqlAdminGuard
	default:
		return fmt.Errorf("no admin guard for dialect %q", db.Dialector.Name())
	}
	// DDL commits implicitly on MySQL, so these run as two plain statements
	if err := db.Exec("DROP TRIGGER IF EXISTS " + AdminGuardTrigger).Error; err != nil {
		return err
	}
	return db.Exec(ddl).Error
}

// OrphanedBudgets returns the IDs of budgets without any admin membership.
// With the trigger installed this is always empty.
func OrphanedBudgets(db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.Table("budgets").
		Where("NOT EXISTS (SELECT 1 FROM memberships m WHERE m.budget_id = budgets.id AND m.role = ?)", "admin").
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}
