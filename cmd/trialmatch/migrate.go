package main

import (
	"fmt"
	"strconv"

	"github.com/clinical-trial-matcher/internal/app"
	"github.com/clinical-trial-matcher/internal/observability"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back postgres schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd, 0)
		},
	}, &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return runMigrations(cmd, steps)
		},
	})
	return cmd
}

func runMigrations(cmd *cobra.Command, steps int) error {
	m, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := m.GetConfig()
	cfg.Logging.Output = "stderr"
	logger, closer, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	return app.Migrate(cmd.Context(), m.GetDatabaseConnectionString(), cfg.Database.MigrationsPath, logger, steps)
}
