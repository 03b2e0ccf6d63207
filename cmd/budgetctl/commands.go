package main

import (
	"errors" // Invariant failure
	"fmt"    // Output

	"budget_system/internal/config"  // Custom package for configuration
	"budget_system/internal/db"      // Store connection and schema
	"budget_system/internal/service" // Account removal
	"budget_system/internal/utils"   // Cache for profile invalidation

	"github.com/sirupsen/logrus" // Structured logging
	"github.com/spf13/cobra"     // CLI framework
	"gorm.io/gorm"               // GORM ORM library
)

// errOrphans is returned by check-invariants when any budget lacks an admin
var errOrphans = errors.New("budgets without an admin found")

func newRootCommand(load func() *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "budgetctl",
		Short: "Operate the collaborative budget store",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	open := func() (*gorm.DB, error) {
		return db.Open(load())
	}

	rootCmd.AddCommand(
		newMigrateCommand(open),
		newRevokeCommand(open),
		newDeleteUserCommand(load, open),
		newCheckCommand(open),
	)
	return rootCmd
}

func newMigrateCommand(open func() (*gorm.DB, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema and install the admin guard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := open()
			if err != nil {
				return err
			}
			if err := db.Migrate(gdb); err != nil {
				return fmt.Errorf("migrating: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

// newRevokeCommand deletes a membership row directly, bypassing the service
// layer. When that row was the budget's last admin, the store trigger deletes
// the budget with it.
func newRevokeCommand(open func() (*gorm.DB, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-membership <budget-id> <user-id>",
		Short: "Remove a user's grant on a budget with a raw delete",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := open()
			if err != nil {
				return err
			}
			res := gdb.WithContext(cmd.Context()).Exec("DELETE FROM memberships WHERE budget_id = ? AND user_id = ?", args[0], args[1])
			if res.Error != nil {
				return fmt.Errorf("revoking membership: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("no membership for user %s on budget %s", args[1], args[0])
			}
			logrus.WithFields(logrus.Fields{"budget_id": args[0], "user_id": args[1]}).Info("Membership revoked")
			fmt.Fprintln(cmd.OutOrStdout(), "membership revoked")
			return nil
		},
	}
}

// newDeleteUserCommand runs the service-layer account removal against the
// server's cache, so a cached profile does not outlive the account.
func newDeleteUserCommand(load func() *config.Config, open func() (*gorm.DB, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-user <user-id>",
		Short: "Delete an account with the same cascade as DELETE /users/me",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := open()
			if err != nil {
				return err
			}
			cfg := load()
			cache, err := utils.OpenCache(cmd.Context(), cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
			if err != nil {
				return fmt.Errorf("connecting to cache: %w", err)
			}
			users := service.NewUserService(gdb, cache, cfg.CacheTTL)
			if err := users.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("deleting user: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "user deleted")
			return nil
		},
	}
}

func newCheckCommand(open func() (*gorm.DB, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "check-invariants",
		Short: "List budgets that have no admin member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := open()
			if err != nil {
				return err
			}
			ids, err := db.OrphanedBudgets(gdb.WithContext(cmd.Context()))
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			if len(ids) > 0 {
				return fmt.Errorf("%w: %d", errOrphans, len(ids))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all budgets have an admin")
			return nil
		},
	}
}
