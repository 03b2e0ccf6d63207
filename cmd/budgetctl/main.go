// Command budgetctl is the operator tool for the budget store.
package main

import (
	"os" // Exit status

	"budget_system/internal/config" // Custom package for configuration
)

func main() {
	if err := newRootCommand(config.LoadConfig).Execute(); err != nil {
		os.Exit(1)
	}
}
