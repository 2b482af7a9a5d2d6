package main

import (
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"launchpad/pkg/config"
)

var (
	migrationsDir string
	downSteps     int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		return config.MigrateUp(db, migrationsDir)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		return config.MigrateDown(db, migrationsDir, downSteps)
	},
}

func openDB() (*gorm.DB, error) {
	return config.OpenDB(config.DatabaseDSN())
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationsDir, "dir", config.DefaultMigrationsDir, "migrations directory")
	migrateDownCmd.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}
