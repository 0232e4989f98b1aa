package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"backoffice/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		return store.ApplyMigrations(cmd.Context(), rt.db, rt.logger)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		return store.RollbackMigration(cmd.Context(), rt.db, rt.logger)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		version, err := store.MigrationVersion(cmd.Context(), rt.db, rt.logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}
