package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dkeye/voicemesh/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down N]",
	Short: "Apply or roll back the database schema",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}
	switch direction {
	case "up":
		if err := database.EnsureDatabase(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("ensure database: %w", err)
		}
		return database.MigrateUp(cfg.DatabaseURL)
	case "down":
		steps := 1
		if len(args) > 1 {
			steps, err = strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid steps %q: %w", args[1], err)
			}
		}
		return database.MigrateDown(cfg.DatabaseURL, steps)
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
}
