package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/escritoresnogueira/backend/internal/config"
	"github.com/escritoresnogueira/backend/internal/db/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
}

func migrateDirection(direction string) *cobra.Command {
	return &cobra.Command{
		Use:   direction,
		Short: "Apply " + direction + " migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := databaseURL()
			if err != nil {
				return err
			}
			if err := migrate.Run(dsn, direction); err != nil {
				return err
			}
			printf(cmd, "migrations %s: done\n", direction)
			return nil
		},
	}
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := databaseURL()
		if err != nil {
			return err
		}
		version, dirty, err := migrate.Version(dsn)
		if err != nil {
			return err
		}
		printf(cmd, "version %d (dirty: %t)\n", version, dirty)
		return nil
	},
}

func databaseURL() (string, error) {
	cfg, err := config.Read(v)
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", errors.New("DATABASE_URL must be set")
	}
	return cfg.DatabaseURL, nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateDirection(migrate.Up), migrateDirection(migrate.Down), migrateVersionCmd)
}
