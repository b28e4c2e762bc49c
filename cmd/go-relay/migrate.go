package main

import (
	"errors"
	"log/slog"

	"github.com/a-essam23/go-relay/internal/migrate"
	"github.com/spf13/cobra"
)

func newMigrateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back the postgres schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Store.DSN == "" {
				return errors.New("store.dsn is required")
			}
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			switch direction {
			case "up":
				if err := migrate.Up(cmd.Context(), c.cfg.Store.DSN); err != nil {
					return err
				}
			case "down":
				if err := migrate.Down(cmd.Context(), c.cfg.Store.DSN); err != nil {
					return err
				}
			default:
				return errors.New("direction must be 'up' or 'down'")
			}
			c.logger.Info("Migration finished", slog.String("direction", direction))
			return nil
		},
	}
	cmd.Flags().String("dsn", "", "postgres connection string")
	bindKey(cmd.Flags(), "dsn", "store.dsn")
	return cmd
}
