package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourcejob/controlplane/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply every embedded schema migration (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbURL := resolveDBURL()
		if err := db.Migrate(dbURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
